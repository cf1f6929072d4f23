// Package codec encodes gateway frames and published events.
package codec

import "encoding/json"

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the wire encoding of the gateway.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSON) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// Indented is JSON for humans, used for command line output.
type Indented struct{}

func (Indented) Marshal(v any) ([]byte, error)   { return json.MarshalIndent(v, "", "  ") }
func (Indented) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

var (
	_ Codec = JSON{}
	_ Codec = Indented{}
)

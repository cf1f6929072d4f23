package rest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingParam = errors.New("missing route parameter")
	ErrNoToken      = errors.New("token is required")
)

type Kind int

const (
	KindNetwork Kind = iota + 1
	KindProtocol
	KindAuthentication
	KindRateLimited
	KindMalformed
	KindClient
	KindServer
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Execute for every failure that is not a
// context error.
type Error struct {
	Kind     Kind
	Route    Route
	Status   int
	Code     int
	Message  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rest %s: %s", e.Route, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d", e.Status)
		if e.Code != 0 {
			msg += fmt.Sprintf(", code %d", e.Code)
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Message == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure was transient. The client has
// already spent its retries when it returns such an error.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimited, KindServer, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// apiError is the JSON error body returned by the API.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge:
		return KindMalformed
	default:
		return KindClient
	}
}

package cache

import "errors"

var (
	ErrDecode   = errors.New("decode payload")
	ErrBadParam   = errors.New("invalid route parameter")
)

package chat

import "errors"

// Operation failures surfaced by the chat core. ErrNotConnected is a
// registry-level miss; the others reject the operation that triggered
// them while the connection, if any, stays open.
var (
	ErrNotConnected = errors.New("identity not connected")
	ErrUnauthorized = errors.New("operation not allowed")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("invalid input")
)

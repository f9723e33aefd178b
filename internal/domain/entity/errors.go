package entity

import "errors"

var (
	// ErrTransport is returned when an upstream collaborator is unreachable or times out.
	ErrTransport = errors.New("transport error")
	// ErrUnavailable is returned when the quote cache could not produce a value after retries.
	ErrUnavailable = errors.New("quote unavailable")
	// ErrMalformedRecord is returned when a transaction or account payload fails to decode.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNotFound is returned when no account or quote exists for a request.
	ErrNotFound = errors.New("not found")
)

// ErrInvalidAddress is returned when an owner address is not a valid public key.
var ErrInvalidAddress = errors.New("invalid address")

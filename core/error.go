package core

import "errors"

var (
	// ErrNotFound is returned when the target user, group or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller is authenticated but not permitted
	// to act on the target room or message.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid is returned for malformed payloads: empty content, oversized or
	// malformed images, unknown message kinds.
	ErrInvalid = errors.New("invalid")
	// ErrUnauthenticated is returned when the connection credential is missing,
	// invalid or expired. It is fatal to the connection.
	ErrUnauthenticated = errors.New("unauthenticated")
)

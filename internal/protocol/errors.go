package protocol

import "errors"

var (
	ErrMissingAction     = errors.New("protocol: missing action")
	ErrUnknownAction     = errors.New("protocol: unknown action")
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrArgIndex          = errors.New("protocol: argument index out of range")
	ErrPayloadTooLarge   = errors.New("protocol: payload too large")
)

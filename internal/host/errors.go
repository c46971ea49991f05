package host

import (
	"errors"
	"sync/atomic"
)

var (
	ErrUnknown          = errors.New("host: unknown error")
	ErrInvalidArguments = errors.New("host: invalid arguments")
	ErrWorkerLoad       = errors.New("host: worker did not load")
	ErrUnknownAction    = errors.New("host: unknown action")
)

// ErrorKind classifies failures reported by a Proxy.
type ErrorKind string

const (
	KindUnknown          ErrorKind = "Unknown"
	KindInvalidArguments ErrorKind = "InvalidArguments"
	KindWorkerLoadError  ErrorKind = "WorkerLoadError"
	KindUnknownAction    ErrorKind = "UnknownAction"
)

// Message is the human-readable text carried on error events.
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidArguments:
		return "Invalid arguments were supplied to this method."
	case KindWorkerLoadError:
		return "Unable to load worker."
	case KindUnknownAction:
		return "An unsupported action was received."
	default:
		return "An unknown error occured."
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidArguments:
		return ErrInvalidArguments
	case KindWorkerLoadError:
		return ErrWorkerLoad
	case KindUnknownAction:
		return ErrUnknownAction
	default:
		return ErrUnknown
	}
}

func normalizeKind(k ErrorKind) ErrorKind {
	switch k {
	case KindInvalidArguments, KindWorkerLoadError, KindUnknownAction:
		return k
	default:
		return KindUnknown
	}
}

// WorkerError is one reported failure. errors.Is matches both the kind's
// sentinel and the underlying cause.
type WorkerError struct {
	Kind  ErrorKind
	Data  any
	Cause error
}

func (e *WorkerError) Error() string {
	if e.Cause != nil {
		return e.Kind.sentinel().Error() + ": " + e.Cause.Error()
	}
	return e.Kind.sentinel().Error()
}

func (e *WorkerError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind.sentinel(), e.Cause}
	}
	return []error{e.Kind.sentinel()}
}

// Info is the payload form of e, as delivered on webworker:error.
func (e *WorkerError) Info(throwsException bool) ErrorInfo {
	data := e.Data
	if err, ok := data.(error); ok {
		data = err.Error()
	}
	return ErrorInfo{
		Kind:            e.Kind,
		Message:         e.Kind.Message(),
		Data:            data,
		ThrowsException: throwsException,
	}
}

// ErrorInfo is the data of a webworker:error event.
type ErrorInfo struct {
	Kind            ErrorKind `json:"kind"`
	Message         string    `json:"message"`
	Data            any       `json:"errorData"`
	ThrowsException bool      `json:"throwsException"`
}

var lastError atomic.Pointer[WorkerError]

// LastError returns the most recent error reported by any Proxy in this
// process, or nil.
func LastError() *WorkerError {
	return lastError.Load()
}

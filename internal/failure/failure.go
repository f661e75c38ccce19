// Package failure defines the error kinds returned by the captioning,
// chat and poem pipeline. Callers match kinds with errors.Is against the
// exported sentinels and reach the original cause with errors.Unwrap.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotInitialized means a resource was used before it was set up.
	KindNotInitialized
	// KindInferenceFailure is a local or hosted vision model error.
	KindInferenceFailure
	// KindRemoteServiceFailure is a transport, auth or API error from the text service.
	KindRemoteServiceFailure
	// KindMalformedResponse means a model answer could not be parsed.
	KindMalformedResponse
	// KindInvalidRequest is a precondition violation detected before any call.
	KindInvalidRequest
	// KindBusy means another operation is already in flight.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "not initialized"
	case KindInferenceFailure:
		return "inference failure"
	case KindRemoteServiceFailure:
		return "remote service failure"
	case KindMalformedResponse:
		return "malformed response"
	case KindInvalidRequest:
		return "invalid request"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNotInitialized       = &Error{Kind: KindNotInitialized}
	ErrInferenceFailure     = &Error{Kind: KindInferenceFailure}
	ErrRemoteServiceFailure = &Error{Kind: KindRemoteServiceFailure}
	ErrMalformedResponse    = &Error{Kind: KindMalformedResponse}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrBusy                 = &Error{Kind: KindBusy}
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "caption", "chat.complete") and Err holds the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a failure of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a failure of the given kind with a formatted message and no cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

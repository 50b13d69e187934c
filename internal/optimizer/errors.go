package optimizer

import (
	"errors"
	"net/http"
)

var (
	ErrBadRequest    = errors.New("bad request")
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	ErrTransform     = errors.New("transform failed")
	ErrInternal      = errors.New("internal error")
)

// genericMessage is the only text clients see for 500 class failures.
const genericMessage = "Error optimizing image"

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUpstreamFetch
	KindTransform
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUpstreamFetch:
		return "upstream_fetch"
	case KindTransform:
		return "transform"
	default:
		return "internal"
	}
}

func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest, KindUpstreamFetch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindBadRequest:
		return ErrBadRequest
	case KindUpstreamFetch:
		return ErrUpstreamFetch
	case KindTransform:
		return ErrTransform
	default:
		return ErrInternal
	}
}

// Error is the outcome of a failed pipeline run. Message is safe to send to
// clients; Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap exposes both the kind's sentinel and the cause, so errors.Is works
// against either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// AsError converts any error into a pipeline Error; unknown errors become
// internal errors with the generic message.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindInternal, Message: genericMessage, Err: err}
}

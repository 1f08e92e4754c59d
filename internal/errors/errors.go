// Package errors defines the failure taxonomy the dispatcher normalizes every
// outcome into. Each failure carries a kind and the HTTP status it maps to;
// the kind picks the fallback reason, the status the client-facing code.
package errors

import "fmt"

// Kind classifies a gateway failure. Every failure surfaced by the dispatcher
// belongs to exactly one kind.
type Kind int

const (
	KindUnknown       Kind = iota
	KindConfiguration      // invalid route set on load or reload
	KindMatch              // no route matched the request
	KindUpstream           // connection refused, non-retryable status, retry exhaustion
	KindBreakerOpen        // fast-fail before any network call
	KindTimeout            // per-attempt or overall deadline exceeded
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindMatch:
		return "match"
	case KindUpstream:
		return "upstream"
	case KindBreakerOpen:
		return "breaker_open"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// GatewayError is a classified failure with its client-facing status code.
type GatewayError struct {
	Code       int
	Message    string
	Kind       Kind
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// NewKind creates a classified error.
func NewKind(kind Kind, code int, message string) *GatewayError {
	return &GatewayError{
		Code:    code,
		Message: message,
		Kind:    kind,
	}
}

// WrapKind classifies an underlying error.
func WrapKind(err error, kind Kind, code int, message string) *GatewayError {
	return &GatewayError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		underlying: err,
	}
}

// IsGatewayError reports whether err is a classified gateway error.
func IsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}

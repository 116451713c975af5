package pipeline

import "fmt"

// ErrorKind is the error taxonomy used across every stage and surfaced at
// the HTTP boundary as a status code.
type ErrorKind string

const (
	KindInvalidCaller    ErrorKind = "invalid_caller"
	KindInvalidQuery     ErrorKind = "invalid_query"
	KindUpstreamTimeout  ErrorKind = "upstream_timeout"
	KindUpstreamFailure  ErrorKind = "upstream_failure"
	KindOverloaded       ErrorKind = "overloaded"
	KindNotFound         ErrorKind = "not_found"
	KindInternal         ErrorKind = "internal"
)

// StructuredError is the sentinel-wrapped error shape every package in this
// module returns instead of bare strings, so the HTTP boundary can map it
// to a status code without string matching.
type StructuredError struct {
	Kind    ErrorKind
	Message string
	Detail  error
}

func (e *StructuredError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StructuredError) Unwrap() error {
	return e.Detail
}

// NewError constructs a StructuredError, optionally wrapping a cause.
func NewError(kind ErrorKind, message string, cause error) *StructuredError {
	return &StructuredError{Kind: kind, Message: message, Detail: cause}
}

// Package apperr classifies failures so transports can map them to a
// response without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input, unsupported files or missing fields.
	ErrValidation = errors.New("validation")
	// ErrUnavailable marks an unreachable dependency such as the vector store.
	ErrUnavailable = errors.New("unavailable")
	// ErrExtraction marks a language model or extraction collaborator failure.
	ErrExtraction = errors.New("extraction")
	// ErrEnrichment marks a failed external reference lookup.
	ErrEnrichment = errors.New("enrichment")
	// ErrNotification marks an outbound notification failure.
	ErrNotification = errors.New("notification")
)

// Error carries a kind and a caller-facing message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// New returns an error of the given kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. The message is prefixed to err's text; a nil err
// yields nil.
func Wrap(kind error, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if msg != "" {
		msg = msg + ": " + err.Error()
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the first known kind err matches, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrUnavailable, ErrExtraction, ErrEnrichment, ErrNotification} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

package hw

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies instrument and sequence failures. Kinds are stable
// identifiers; they end up in result records and API responses.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConnection    Kind = "connection"
	KindCommunication Kind = "communication"
	KindTimeout       Kind = "timeout"
	KindOutOfRange    Kind = "out_of_range"
	KindSafety        Kind = "safety"
	KindCancelled     Kind = "cancelled"
)

// Error is the typed error every back-end operation fails with. It carries
// the failing instrument and operation plus an optional detail map; it is
// never surfaced as an opaque string.
type Error struct {
	Kind       Kind
	Instrument string
	Op         string
	Message    string
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Instrument != "" {
		b.WriteString(e.Instrument)
		b.WriteString(": ")
	}

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}

		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair to the error's detail map.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 4)
	}

	e.Details[key] = value

	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err

	return e
}

// NewError builds a typed error for the given kind, instrument, and
// operation.
func NewError(kind Kind, instrument, op, message string) *Error {
	return &Error{
		Kind:       kind,
		Instrument: instrument,
		Op:         op,
		Message:    message,
	}
}

// KindOf returns the error's kind, or the empty Kind for untyped errors.
// Context cancellation and deadline expiry map to their taxonomy kinds even
// when they surface as plain context errors.
func KindOf(err error) Kind {
	var hwErr *Error
	if errors.As(err, &hwErr) {
		return hwErr.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Package ragerr defines the closed set of error kinds every collaborator
// in the core reports through, per SPEC_FULL.md §7. Callers distinguish
// kinds with errors.As against *Error, never by string matching.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from spec.md §7.
type Kind string

const (
	Transport      Kind = "transport"
	UpstreamStatus Kind = "upstream_status"
	UpstreamSchema Kind = "upstream_schema"
	Validation     Kind = "validation"
	Policy         Kind = "policy"
	Internal       Kind = "internal"
)

// Error wraps an underlying cause with a Kind and, for UpstreamStatus, the
// upstream HTTP status code and a truncated detail string.
type Error struct {
	Kind   Kind
	Code   int // non-zero only for UpstreamStatus
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: code=%d detail=%s", e.Kind, e.Code, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a plain error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Status builds an UpstreamStatus error. Detail is truncated to 500 chars so
// response bodies never leak large upstream payloads.
func Status(code int, detail string) *Error {
	if len(detail) > 500 {
		detail = detail[:500] + "… [truncated]"
	}
	return &Error{Kind: UpstreamStatus, Code: code, Detail: detail}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

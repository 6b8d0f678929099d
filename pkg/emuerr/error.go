// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package emuerr defines the canonical error kinds shared by the storage
// engine and every protocol adapter. The engine never returns vendor-shaped
// errors; adapters own the mapping from a Kind to their wire format.
package emuerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the canonical classification of an engine error.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAlreadyExists
	KindConditionalCheckFailed
	KindPreconditionFailed
	KindValidation
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindConditionalCheckFailed:
		return "ConditionalCheckFailed"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindInternal:
		return "Internal"
	default:
		return "None"
	}
}

// Error is the canonical engine error. Resource identifies what the error is
// about ("bucket b1", "queue orders"); Message is human-readable.
type Error struct {
	Kind     Kind
	Resource string
	Message  string
	wrapped  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Resource != "" {
		b.WriteString(": ")
		b.WriteString(e.Resource)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

func newError(kind Kind, resource, format string, args ...any) *Error {
	return &Error{Kind: kind, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(resource, format string, args ...any) *Error {
	return newError(KindNotFound, resource, format, args...)
}

// AlreadyExists reports a uniqueness violation on create.
func AlreadyExists(resource, format string, args ...any) *Error {
	return newError(KindAlreadyExists, resource, format, args...)
}

// ConditionalCheckFailed reports an unsatisfied write condition.
func ConditionalCheckFailed(resource, format string, args ...any) *Error {
	return newError(KindConditionalCheckFailed, resource, format, args...)
}

// PreconditionFailed reports a stale receipt token or comparable staleness.
func PreconditionFailed(resource, format string, args ...any) *Error {
	return newError(KindPreconditionFailed, resource, format, args...)
}

// Validation reports malformed parameters.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, "", format, args...)
}

// Conflict reports an operation rejected by resource state, such as deleting
// a non-empty bucket.
func Conflict(resource, format string, args ...any) *Error {
	return newError(KindConflict, resource, format, args...)
}

// Internal wraps a storage failure. The engine fails fast; it never retries.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// KindOf extracts the canonical kind from err, or KindInternal for any error
// that did not originate in the engine. A nil err yields KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

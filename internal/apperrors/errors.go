// Package apperrors classifies failures so the dispatcher can decide between
// retrying, abandoning, and pausing.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	// Unknown is the zero value; callers treat it like Permanent.
	Unknown Kind = iota
	// Transient failures (timeouts, 5xx, rate limits) are retried with backoff.
	Transient
	// Permanent failures (unsupported language pair, rejected input) are not retried.
	Permanent
	// Extraction failures come from the prober or extractor.
	Extraction
	// Filesystem failures: media vanished, unreadable, or output not writable.
	Filesystem
	// Cache failures are logged and treated as misses.
	Cache
	// Config failures abort startup.
	Config
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "Transient"
	case Permanent:
		return "Permanent"
	case Extraction:
		return "Extraction"
	case Filesystem:
		return "Filesystem"
	case Cache:
		return "Cache"
	case Config:
		return "Config"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, message string) *Error {
	e := New(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return IsKind(err, Transient)
}

// SafeExecute runs fn and turns a panic into an Unknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Newf(Unknown, "runtime error: %v", r)
		}
	}()

	return fn()
}

// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so the web layer can map them to responses.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindParse
	KindRender
	KindInvalidContent
	KindResourceExhausted
	KindFatalInit
	KindCache
	KindStopped
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindParse:
		return "parse error"
	case KindRender:
		return "render error"
	case KindInvalidContent:
		return "invalid content"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindFatalInit:
		return "fatal initialization"
	case KindCache:
		return "cache error"
	case KindStopped:
		return "service stopped"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. Every *Error matches the sentinel of its Kind
// under errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrParse             = &Error{Kind: KindParse}
	ErrRender            = &Error{Kind: KindRender}
	ErrInvalidContent    = &Error{Kind: KindInvalidContent}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrFatalInit         = &Error{Kind: KindFatalInit}
	ErrCache             = &Error{Kind: KindCache}
	ErrServiceStopped    = &Error{Kind: KindStopped}
)

// Error is the typed error returned by every engine operation.
type Error struct {
	Kind       Kind
	Op         string
	DocumentID string
	Item       int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.DocumentID != "" {
		msg += fmt.Sprintf(" (document=%s", e.DocumentID)
		if e.Item >= 0 {
			msg += fmt.Sprintf(" item=%d", e.Item)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, which is how the sentinels work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// newError builds an *Error. Item is -1 when the error is not item specific.
func newError(kind Kind, op, docID string, item int, err error) *Error {
	return &Error{Kind: kind, Op: op, DocumentID: docID, Item: item, Err: err}
}

// Errorf creates an *Error of the given kind. Native backends use it to report
// typed failures without knowing about the calling operation.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Item: -1, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether a caller may retry the failed operation.
// Only pool or actor saturation qualifies; the engine never retries itself.
func IsRetryable(err error) bool {
	return KindOf(err) == KindResourceExhausted
}

// annotate attaches operation context to err. Errors that already carry a Kind
// keep it; anything else is classified with fallback.
func annotate(err error, fallback Kind, op, docID string, item int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		return newError(e.Kind, op, docID, item, unwrapBare(e))
	}
	return newError(fallback, op, docID, item, err)
}

// unwrapBare drops a context-free *Error wrapper so messages do not repeat the kind.
func unwrapBare(e *Error) error {
	if e.Err != nil {
		return e.Err
	}
	return nil
}

package sslkey

import (
	"errors"
	"fmt"
)

// Kind classifies why a PEM file was rejected or could not be produced.
type Kind int

const (
	KindUnknown Kind = iota
	KindFileAccess
	KindParse
	KindKeyInvalid
	KindCertInvalid
	KindGeneration
	KindInit
)

func (k Kind) String() string {
	switch k {
	case KindFileAccess:
		return "file access"
	case KindParse:
		return "parse"
	case KindKeyInvalid:
		return "key invalid"
	case KindCertInvalid:
		return "certificate invalid"
	case KindGeneration:
		return "generation"
	case KindInit:
		return "initialization"
	default:
		return "unknown"
	}
}

// Error is returned by every Manager operation. Compare against the
// Err* sentinels with errors.Is to branch on the Kind.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

var (
	ErrFileAccess  = &Error{Kind: KindFileAccess}
	ErrParse       = &Error{Kind: KindParse}
	ErrKeyInvalid  = &Error{Kind: KindKeyInvalid}
	ErrCertInvalid = &Error{Kind: KindCertInvalid}
	ErrGeneration  = &Error{Kind: KindGeneration}
	ErrInit        = &Error{Kind: KindInit}
)

func (e *Error) Error() string {
	switch {
	case e.Path == "" && e.Err == nil:
		return e.Kind.String()
	case e.Path == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind when target is one of the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Path == "" && t.Err == nil
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

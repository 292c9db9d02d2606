// Package jserr defines JStorage's error taxonomy.
//
// Every failure class carries a stable numeric hint as a field, so log
// lines and callers that switch on kind stay stable as the taxonomy
// grows.
package jserr

import "fmt"

// Kind identifies a class of failure. The numeric Hint values exist for
// log continuity; they are not HTTP status codes.
type Kind int

const (
	Unknown Kind = iota
	NotReady
	NotFound
	AlreadyExists
	DoesNotFit
	StructureMismatch
	StaleToken
	NoToken
	LoadFailed
	UnloadFailed
	IndexDivergence
	CryptNotReady
	CryptFailed
)

// Hint returns the legacy numeric status code associated with a Kind.
// Several kinds carry more than one historical code depending on which
// level (database/table/shard) produced them; Hint returns the lowest one.
func (k Kind) Hint() int {
	switch k {
	case NotReady:
		return 100
	case NotFound:
		return 201
	case AlreadyExists:
		return 211
	case DoesNotFit:
		return 220
	case StructureMismatch:
		return 221
	case StaleToken, NoToken:
		return 242
	case LoadFailed:
		return 101
	case UnloadFailed:
		return 102
	case IndexDivergence:
		return 0
	case CryptNotReady, CryptFailed:
		return 0
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case NotReady:
		return "NotReady"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case DoesNotFit:
		return "DoesNotFit"
	case StructureMismatch:
		return "StructureMismatch"
	case StaleToken:
		return "StaleToken"
	case NoToken:
		return "NoToken"
	case LoadFailed:
		return "LoadFailed"
	case UnloadFailed:
		return "UnloadFailed"
	case IndexDivergence:
		return "IndexDivergence"
	case CryptNotReady:
		return "CryptNotReady"
	case CryptFailed:
		return "CryptFailed"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every JStorage operation
// that can fail in a way callers need to distinguish.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Kind.Hint(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Kind.Hint(), e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given Kind with a formatted message.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given Kind around an underlying cause.
func Wrap(k Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given Kind. It follows the
// standard unwrap chain, so wrapped errors are matched too.
func Is(err error, k Kind) bool {
	for err != nil {
		if je, ok := err.(*Error); ok {
			if je.Kind == k {
				return true
			}
			err = je.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
			continue
		}
		return false
	}
	return false
}

// KindOf extracts the Kind of err, or Unknown if err is not a *Error.
func KindOf(err error) Kind {
	if je, ok := err.(*Error); ok {
		return je.Kind
	}
	return Unknown
}

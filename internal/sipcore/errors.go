package sipcore

import "github.com/pkg/errors"

// Kind enumerates the error categories of spec.md §7.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthenticated
	KindForbidden
	KindDomainNotServiced
	KindNotFound
	KindOverloaded
	KindIntervalTooBrief
	KindMethodNotAllowed
	KindInternalError
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindForbidden:
		return "Forbidden"
	case KindDomainNotServiced:
		return "DomainNotServiced"
	case KindNotFound:
		return "NotFound"
	case KindOverloaded:
		return "Overloaded"
	case KindIntervalTooBrief:
		return "IntervalTooBrief"
	case KindMethodNotAllowed:
		return "MethodNotAllowed"
	case KindInternalError:
		return "InternalError"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is a typed protocol error. Workers catch these (or wrap a lower
// level failure into KindInternalError) and turn them into exactly one
// final SIP response, per spec.md §7.
type Error struct {
	Kind Kind
	Msg  string
	Code int
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Msg }

// New builds a typed Error.
func New(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap attaches a stack trace (via pkg/errors, the pack's idiom for
// "caught exception in worker" propagation) and marks the result
// KindInternalError so worker catch-alls can log it and reply 500.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

package board

import (
	"errors"
	"fmt"

	"github.com/openbay/shopboard/services/board-service/internal/model"
)

// Kind classifies an engine error so callers can branch without string
// matching. VersionConflict and Unavailable are the only retryable kinds,
// and VersionConflict requires a re-fetch first.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindIllegalTransition Kind = "illegal_transition"
	KindVersionConflict   Kind = "version_conflict"
	KindUnavailable       Kind = "unavailable"
	KindInvalidArgument   Kind = "invalid_argument"
)

type Error struct {
	Kind Kind
	Msg  string

	// CurrentVersion carries the stored version on a version conflict so
	// the client can resynchronize without another round trip.
	CurrentVersion int64

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func IllegalTransition(from, to model.Status) *Error {
	return &Error{
		Kind: KindIllegalTransition,
		Msg:  fmt.Sprintf("transition %s -> %s is not allowed", from, to),
	}
}

func VersionConflict(current int64) *Error {
	return &Error{
		Kind:           KindVersionConflict,
		Msg:            "stale version; re-fetch and retry",
		CurrentVersion: current,
	}
}

func Unavailable(msg string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Msg: msg, cause: cause}
}

func InvalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: msg}
}

// KindOf returns the kind of err, or the empty string for non-engine errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

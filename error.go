package xacoord

import "fmt"

// ErrorKind enumerates the coordinator's error categories.
type ErrorKind int

const (
	// UnknownError is an unspecified error condition.
	UnknownError ErrorKind = iota
	// ProtocolError is an illegal state transition or illegal branch operation.
	ProtocolError
	// RollbackError means prepare voted no or a branch demanded rollback.
	RollbackError
	// HeuristicRollbackError means all participants unilaterally rolled back.
	HeuristicRollbackError
	// HeuristicMixedError means participants disagree on outcome, or a hazard was observed.
	HeuristicMixedError
	// SystemError is an internal failure (journal I/O, executor refused, etc).
	SystemError
	// TimeoutError means the transaction deadline passed during prepare or commit.
	TimeoutError
	// RecoveryError means per-resource recovery failed; never surfaced to application goroutines.
	RecoveryError
)

func (k ErrorKind) String() string {
	switch k {
	case ProtocolError:
		return "protocol error"
	case RollbackError:
		return "rollback error"
	case HeuristicRollbackError:
		return "heuristic rollback"
	case HeuristicMixedError:
		return "heuristic mixed"
	case SystemError:
		return "system error"
	case TimeoutError:
		return "timeout"
	case RecoveryError:
		return "recovery error"
	default:
		return "unknown error"
	}
}

// Error is the coordinator's error type: a classified kind, the wrapped cause, and optional
// user data useful to callers deciding how to react (e.g. the offending Xid or uniqueName).
type Error struct {
	Kind     ErrorKind
	Err      error
	UserData any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.UserData != nil {
		return fmt.Errorf("%s: user data: %v: %w", e.Kind, e.UserData, e.Err).Error()
	}
	return fmt.Errorf("%s: %w", e.Kind, e.Err).Error()
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a classified Error wrapping err.
func NewError(kind ErrorKind, err error, userData any) *Error {
	return &Error{Kind: kind, Err: err, UserData: userData}
}

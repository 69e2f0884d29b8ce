// Package xa defines the branch capability interface the coordinator drives, and the standard
// XA error-code enumeration used to classify branch outcomes.
package xa

import (
	"context"

	"github.com/sharedcode/xacoord"
)

// Flag is a bitmask passed to Start/End.
type Flag int

const (
	TMNOFLAGS Flag = 0
	TMJOIN    Flag = 1 << iota
	TMRESUME
	TMSUCCESS
	TMFAIL
	TMSUSPEND
	TMSTARTRSCAN
	TMENDRSCAN
)

// Vote is the outcome of a Prepare call.
type Vote int

const (
	// XAOK votes to proceed to phase 2.
	XAOK Vote = iota
	// XARDONLY votes that the branch has nothing to commit; it is dropped from phase 2.
	XARDONLY
)

// ErrorCode enumerates the standard XA error codes a Resource's methods may report via Error.
type ErrorCode int

const (
	// XANone indicates no XA-specific error occurred (method succeeded).
	XANone ErrorCode = iota
	XAHeurCom
	XAHeurRB
	XAHeurMix
	XAHeurHaz
	XARBRollback
	XAERProto
	XAERNota
	XAERInval
	XAERRMFail
	XAEROther
)

func (c ErrorCode) String() string {
	switch c {
	case XAHeurCom:
		return "XA_HEURCOM"
	case XAHeurRB:
		return "XA_HEURRB"
	case XAHeurMix:
		return "XA_HEURMIX"
	case XAHeurHaz:
		return "XA_HEURHAZ"
	case XARBRollback:
		return "XA_RBROLLBACK"
	case XAERProto:
		return "XAER_PROTO"
	case XAERNota:
		return "XAER_NOTA"
	case XAERInval:
		return "XAER_INVAL"
	case XAERRMFail:
		return "XAER_RMFAIL"
	case XAEROther:
		return "XAER_OTHER"
	default:
		return "XA_OK"
	}
}

// IsHeuristic reports whether c is one of the four heuristic-outcome codes.
func (c ErrorCode) IsHeuristic() bool {
	switch c {
	case XAHeurCom, XAHeurRB, XAHeurMix, XAHeurHaz:
		return true
	default:
		return false
	}
}

// Error wraps an XA ErrorCode so callers can classify a branch failure.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Resource is the capability set a participating resource manager exposes to the coordinator.
// Implementations are provided by resource adapters (see package resource/*).
type Resource interface {
	Start(ctx context.Context, xid xacoord.Xid, flags Flag) error
	End(ctx context.Context, xid xacoord.Xid, flags Flag) error
	Prepare(ctx context.Context, xid xacoord.Xid) (Vote, error)
	Commit(ctx context.Context, xid xacoord.Xid, onePhase bool) error
	Rollback(ctx context.Context, xid xacoord.Xid) error
	Forget(ctx context.Context, xid xacoord.Xid) error
	Recover(ctx context.Context, flags Flag) ([]xacoord.Xid, error)
	IsSameRM(other Resource) bool
	SetTransactionTimeout(seconds int) error
}

// Bean is a configuration descriptor for a registered resource.
type Bean struct {
	UniqueName              string
	ClassName               string
	UseTmJoin               bool
	TwoPcOrderingPosition   int32
	IgnoreRecoveryFailures  bool
	ApplyTransactionTimeout bool
	DriverProperties        map[string]string
}

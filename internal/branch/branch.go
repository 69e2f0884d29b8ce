// Package branch implements BranchState, the per-(resource, transaction) state machine
// tracking start/end/suspend and the assigned Xid.
package branch

import (
	"fmt"
	"sync"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/xa"
)

// State is one branch's (resource, transaction) binding: its assigned Xid, the resource handle
// and Bean it was enlisted against, and its started/ended/suspended flags.
//
// Invariant: suspended ⇒ started ∨ ended. MarkEnded does not clear started, so an ended branch
// has both flags set and Started reports whether it was ever started. Any illegal transition returns a
// protocol error instead of silently corrupting the flags.
type State struct {
	mu sync.Mutex

	xid       xacoord.Xid
	xidSet    bool
	resource  xa.Resource
	bean      xa.Bean
	emulating bool

	started   bool
	ended     bool
	suspended bool

	vote      xa.Vote
	heuristic xa.ErrorCode
}

// New builds a BranchState bound to resource/bean, not yet assigned an Xid.
func New(resource xa.Resource, bean xa.Bean, emulating bool) *State {
	return &State{resource: resource, bean: bean, emulating: emulating}
}

// AssignXid sets the branch's Xid. It may only be called once; a second call is an invariant
// violation and returns a protocol error.
func (b *State) AssignXid(xid xacoord.Xid) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.xidSet {
		return fmt.Errorf("branch %s: xid already assigned, cannot reassign", b.bean.UniqueName)
	}
	b.xid = xid
	b.xidSet = true
	return nil
}

// Xid returns the branch's assigned Xid.
func (b *State) Xid() xacoord.Xid { return b.xid }

// Resource returns the underlying XA resource handle.
func (b *State) Resource() xa.Resource { return b.resource }

// Bean returns the resource's configuration descriptor.
func (b *State) Bean() xa.Bean { return b.bean }

// UniqueName returns the bound resource's configured unique name.
func (b *State) UniqueName() string { return b.bean.UniqueName }

// Position returns the bound resource's 2PC ordering position.
func (b *State) Position() int32 { return b.bean.TwoPcOrderingPosition }

// IsEmulating reports whether this branch is a last-resource-commit ("emulating XA") participant.
func (b *State) IsEmulating() bool { return b.emulating }

// Started reports whether Start has succeeded on this branch.
func (b *State) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Ended reports whether End has succeeded on this branch.
func (b *State) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// Suspended reports whether the branch is currently suspended.
func (b *State) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspended
}

// MarkStarted records a successful Start call. Illegal if already started or already ended.
func (b *State) MarkStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("branch %s: already started", b.bean.UniqueName)
	}
	if b.ended {
		return fmt.Errorf("branch %s: cannot start an ended branch", b.bean.UniqueName)
	}
	b.started = true
	return nil
}

// MarkEnded records a successful End call. Illegal unless the branch is currently started
// and not yet ended.
func (b *State) MarkEnded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return fmt.Errorf("branch %s: cannot end a branch that was never started", b.bean.UniqueName)
	}
	if b.ended {
		return fmt.Errorf("branch %s: already ended", b.bean.UniqueName)
	}
	b.ended = true
	b.suspended = false
	return nil
}

// MarkSuspended records a successful TMSUSPEND End call. Legal only once started or ended.
func (b *State) MarkSuspended() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started && !b.ended {
		return fmt.Errorf("branch %s: cannot suspend a branch that has neither started nor ended", b.bean.UniqueName)
	}
	b.suspended = true
	return nil
}

// MarkResumed clears the suspended flag, allowing a subsequent End/re-Start(TMRESUME).
func (b *State) MarkResumed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.suspended {
		return fmt.Errorf("branch %s: cannot resume a branch that is not suspended", b.bean.UniqueName)
	}
	b.suspended = false
	return nil
}

// SetVote records the branch's Prepare vote.
func (b *State) SetVote(v xa.Vote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vote = v
}

// Vote returns the branch's recorded Prepare vote.
func (b *State) Vote() xa.Vote {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vote
}

// SetHeuristic records a heuristic outcome reported by the resource during commit/rollback.
func (b *State) SetHeuristic(code xa.ErrorCode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heuristic = code
}

// Heuristic returns the recorded heuristic outcome, or xa.XANone if none was reported.
func (b *State) Heuristic() xa.ErrorCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heuristic
}

package twopc

import (
	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/xa"
)

// Branch is the view of a branch.State the two-phase engine needs. It is defined here rather
// than imported from package branch so that branch (and anything depending on it) never needs
// to import twopc -- branch.State satisfies this interface structurally.
type Branch interface {
	Xid() xacoord.Xid
	Resource() xa.Resource
	UniqueName() string
	Position() int32
	IsEmulating() bool
	Started() bool
	SetVote(xa.Vote)
	Vote() xa.Vote
	SetHeuristic(xa.ErrorCode)
	Heuristic() xa.ErrorCode
}

// byPosition orders branches by ascending TwoPcOrderingPosition, ties broken by original
// (enlistment) order, i.e. a stable sort.
func byPosition(branches []Branch) []Branch {
	out := make([]Branch, len(branches))
	copy(out, branches)
	stableSortByPosition(out, false)
	return out
}

// byPositionReverse orders branches by descending TwoPcOrderingPosition, ties broken by the
// reverse of enlistment order.
func byPositionReverse(branches []Branch) []Branch {
	out := make([]Branch, len(branches))
	copy(out, branches)
	stableSortByPosition(out, true)
	return out
}

func stableSortByPosition(branches []Branch, reverse bool) {
	// Simple stable insertion sort: the branch counts per transaction are small (one per
	// enlisted resource), so O(n^2) is not a concern and keeps the sort visibly stable.
	less := func(i, j int) bool {
		if reverse {
			return branches[i].Position() > branches[j].Position()
		}
		return branches[i].Position() < branches[j].Position()
	}
	for i := 1; i < len(branches); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			branches[j], branches[j-1] = branches[j-1], branches[j]
		}
	}
}

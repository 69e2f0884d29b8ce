package twopc

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/sharedcode/xacoord/internal/xa"
)

// ErrTimeout is returned by Prepare when the transaction's deadline passes while branches are
// still outstanding.
var ErrTimeout = errors.New("xacoord: transaction timed out during prepare")

// ErrRollback is returned by Prepare when a branch voted to roll back, or when an emulating
// (last-resource-commit) branch's prepare errored after all true XA branches had already voted OK.
type ErrRollback struct {
	Cause error
}

func (e *ErrRollback) Error() string { return "xacoord: rollback: " + e.Cause.Error() }
func (e *ErrRollback) Unwrap() error { return e.Cause }

// Prepare runs phase 1 across branches (already filtered to started/active branches) and returns
// the surviving participant set for phase 2, in ascending 2PC order. maxConcurrent bounds the
// worker pool; the caller should pass resourceCount-1 so that one branch always runs
// inline without touching the executor at all.
//
// isTimedOut is polled once per second while branches are outstanding. On any prepare failure
// the caller is responsible for rolling back the branches that already voted OK.
func Prepare(ctx context.Context, branches []Branch, maxConcurrent int, isTimedOut func() bool) ([]Branch, error) {
	ordered := byPosition(branches)

	var trueXA, emulating []Branch
	for _, b := range ordered {
		if b.IsEmulating() {
			emulating = append(emulating, b)
		} else {
			trueXA = append(trueXA, b)
		}
	}

	// One-phase optimization: exactly one participating branch skips prepare entirely and is
	// returned directly; Committer is expected to pass onePhase=true. A resource that refuses
	// one-phase commit surfaces its error at commit time rather than prepare time.
	if len(ordered) == 1 {
		return ordered, nil
	}

	var (
		mu         sync.Mutex
		survivors  []Branch
		prepareErr error
	)

	if len(trueXA) > 0 {
		exec := newExecutor(maxConcurrent)
		// One branch always runs inline on the calling goroutine; the rest go to the executor.
		inline := trueXA[0]
		rest := trueXA[1:]

		for _, b := range rest {
			b := b
			exec.submit(ctx, func(ctx context.Context) {
				vote, err := prepareOne(ctx, b)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					if prepareErr == nil {
						prepareErr = fmt.Errorf("resource %s refused to prepare: %w", b.UniqueName(), err)
					}
				case vote == xa.XAOK:
					survivors = append(survivors, b)
				}
			})
		}

		vote, err := prepareOne(ctx, inline)
		if err == nil && vote == xa.XAOK {
			mu.Lock()
			survivors = append(survivors, inline)
			mu.Unlock()
		}
		if err != nil {
			// A hard prepare failure (not a vote) drives a clean rollback of the branches that
			// already voted OK; outstanding executor jobs are abandoned per the timeout policy.
			exec.waitOrTimeout(isTimedOut)
			return nil, &ErrRollback{Cause: err}
		}

		if timedOut := exec.waitOrTimeout(isTimedOut); timedOut {
			return nil, ErrTimeout
		}
		if prepareErr != nil {
			return nil, &ErrRollback{Cause: prepareErr}
		}
	}

	// Last-resource-commit: prepared synchronously on the coordinator goroutine only after every
	// true XA branch has voted. A failure here rolls back everything prepared so far.
	for _, e := range emulating {
		vote, err := prepareOne(ctx, e)
		if err != nil {
			return nil, &ErrRollback{Cause: fmt.Errorf("emulating resource %s failed to prepare: %w", e.UniqueName(), err)}
		}
		if vote == xa.XAOK {
			survivors = append(survivors, e)
		}
	}

	return byPosition(survivors), nil
}

func prepareOne(ctx context.Context, b Branch) (xa.Vote, error) {
	vote, err := b.Resource().Prepare(ctx, b.Xid())
	if err != nil {
		log.Warn("prepare failed", "resource", b.UniqueName(), "xid", b.Xid().String(), "error", err)
		return vote, err
	}
	b.SetVote(vote)
	return vote, nil
}

package twopc

import (
	"context"
	"errors"
	log "log/slog"
	"sync"

	"github.com/sharedcode/xacoord/internal/xa"
)

// Commit runs phase 2 across participants (the survivor set Prepare returned), sorted in
// ascending 2PC order, bounded by maxConcurrent concurrent jobs with one branch always run inline.
// Every participant after the first is handed to the executor before the first one runs inline,
// so commit calls to different participants may be issued in any order. onePhase is
// true iff there is exactly one participant (the one-phase optimization).
func Commit(ctx context.Context, participants []Branch, onePhase bool, maxConcurrent int, isTimedOut func() bool) (Outcome, error) {
	ordered := byPosition(participants)
	if len(ordered) == 0 {
		return Success, nil
	}

	var (
		mu         sync.Mutex
		heuristics []branchFault
		errs       []branchFault
	)

	commitOne := func(ctx context.Context, b Branch) {
		err := b.Resource().Commit(ctx, b.Xid(), onePhase)
		if err == nil {
			return
		}
		xaErr, ok := asXAError(err)
		if !ok {
			mu.Lock()
			errs = append(errs, branchFault{uniqueName: b.UniqueName(), code: xa.XAEROther})
			mu.Unlock()
			log.Warn("commit failed", "resource", b.UniqueName(), "error", err)
			return
		}
		switch xaErr.Code {
		case xa.XAHeurCom:
			// Resource independently reached the same decision: forget and treat as success.
			if ferr := b.Resource().Forget(ctx, b.Xid()); ferr != nil {
				log.Warn("forget failed after XA_HEURCOM", "resource", b.UniqueName(), "error", ferr)
			}
		case xa.XAHeurRB, xa.XAHeurMix, xa.XAHeurHaz:
			b.SetHeuristic(xaErr.Code)
			mu.Lock()
			heuristics = append(heuristics, branchFault{uniqueName: b.UniqueName(), code: xaErr.Code})
			mu.Unlock()
			log.Warn("heuristic outcome during commit", "resource", b.UniqueName(), "code", xaErr.Code)
		default:
			mu.Lock()
			errs = append(errs, branchFault{uniqueName: b.UniqueName(), code: xaErr.Code})
			mu.Unlock()
			log.Warn("commit failed", "resource", b.UniqueName(), "code", xaErr.Code)
		}
	}

	if len(ordered) == 1 {
		commitOne(ctx, ordered[0])
	} else {
		exec := newExecutor(maxConcurrent)
		for _, b := range ordered[1:] {
			b := b
			exec.submit(ctx, func(ctx context.Context) { commitOne(ctx, b) })
		}
		commitOne(ctx, ordered[0])
		exec.waitOrTimeout(isTimedOut)
	}

	return classify(heuristics, errs, len(ordered), false)
}

func asXAError(err error) (*xa.Error, bool) {
	var xaErr *xa.Error
	return xaErr, errors.As(err, &xaErr)
}

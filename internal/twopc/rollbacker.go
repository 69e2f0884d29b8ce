package twopc

import (
	"context"
	log "log/slog"
	"sync"

	"github.com/sharedcode/xacoord/internal/xa"
)

// Rollback runs rollback across branches, sorted in descending 2PC order. Every branch after the
// first is handed to the executor before the first one runs inline, so rollback calls to
// different branches may be issued in any order. A branch that was never
// started is skipped silently -- it has nothing to roll back.
func Rollback(ctx context.Context, branches []Branch, maxConcurrent int, isTimedOut func() bool) (Outcome, error) {
	var toRollback []Branch
	for _, b := range branches {
		if b.Started() {
			toRollback = append(toRollback, b)
		}
	}
	ordered := byPositionReverse(toRollback)
	if len(ordered) == 0 {
		return Success, nil
	}

	var (
		mu         sync.Mutex
		heuristics []branchFault
		errs       []branchFault
	)

	rollbackOne := func(ctx context.Context, b Branch) {
		err := b.Resource().Rollback(ctx, b.Xid())
		if err == nil {
			return
		}
		xaErr, ok := asXAError(err)
		if !ok {
			mu.Lock()
			errs = append(errs, branchFault{uniqueName: b.UniqueName(), code: xa.XAEROther})
			mu.Unlock()
			log.Warn("rollback failed", "resource", b.UniqueName(), "error", err)
			return
		}
		switch xaErr.Code {
		case xa.XAHeurRB:
			if ferr := b.Resource().Forget(ctx, b.Xid()); ferr != nil {
				log.Warn("forget failed after XA_HEURRB", "resource", b.UniqueName(), "error", ferr)
			}
		case xa.XAHeurCom, xa.XAHeurMix, xa.XAHeurHaz:
			b.SetHeuristic(xaErr.Code)
			mu.Lock()
			heuristics = append(heuristics, branchFault{uniqueName: b.UniqueName(), code: xaErr.Code})
			mu.Unlock()
			log.Warn("heuristic outcome during rollback", "resource", b.UniqueName(), "code", xaErr.Code)
		default:
			mu.Lock()
			errs = append(errs, branchFault{uniqueName: b.UniqueName(), code: xaErr.Code})
			mu.Unlock()
			log.Warn("rollback failed", "resource", b.UniqueName(), "code", xaErr.Code)
		}
	}

	if len(ordered) == 1 {
		rollbackOne(ctx, ordered[0])
	} else {
		exec := newExecutor(maxConcurrent)
		for _, b := range ordered[1:] {
			b := b
			exec.submit(ctx, func(ctx context.Context) { rollbackOne(ctx, b) })
		}
		rollbackOne(ctx, ordered[0])
		exec.waitOrTimeout(isTimedOut)
	}

	return classify(heuristics, errs, len(ordered), true)
}

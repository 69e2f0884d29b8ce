// Package twopc implements parallel prepare/commit/rollback dispatch across a transaction's
// branches, vote/error aggregation, the one-phase and read-only optimizations, last-resource-commit
// (LRC) handling, and heuristic classification.
package twopc

import (
	"context"
	"sync"
	"time"
)

// pollInterval is how often Preparer/Committer/Rollbacker check for phase completion and for
// transaction timeout while jobs are outstanding.
const pollInterval = 1 * time.Second

// executor runs one job per branch, never more than maxConcurrent at a time: a WaitGroup of
// goroutines gated by a buffered semaphore channel. A
// caller submits jobs, then calls wait, which returns either when every job has completed or
// when isTimedOut reports true -- in the latter case outstanding jobs keep running in the
// background and their eventual completion is ignored.
type executor struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	doneCh chan struct{}
}

// newExecutor returns an executor that runs at most maxConcurrent jobs at once.
func newExecutor(maxConcurrent int) *executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	e := &executor{slots: make(chan struct{}, maxConcurrent), doneCh: make(chan struct{})}
	return e
}

// submit runs job in its own goroutine once a slot is free. job's error, if any, must be recorded
// by the caller inside job itself (e.g. into a per-branch result slot) since every
// branch's outcome is captured and deferred until the whole phase completes.
func (e *executor) submit(ctx context.Context, job func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.slots <- struct{}{}
		defer func() { <-e.slots }()
		job(ctx)
	}()
}

// waitOrTimeout blocks until every submitted job has completed, or returns early with
// timedOut=true the first time isTimedOut reports true (polled every pollInterval). Outstanding
// jobs are left running; their completion is never awaited after a timeout is reported.
func (e *executor) waitOrTimeout(isTimedOut func() bool) (timedOut bool) {
	go func() {
		e.wg.Wait()
		close(e.doneCh)
	}()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.doneCh:
			return false
		case <-ticker.C:
			if isTimedOut != nil && isTimedOut() {
				return true
			}
		}
	}
}

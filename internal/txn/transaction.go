package txn

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/branch"
	"github.com/sharedcode/xacoord/internal/journal"
	"github.com/sharedcode/xacoord/internal/scheduler"
	"github.com/sharedcode/xacoord/internal/twopc"
	"github.com/sharedcode/xacoord/internal/xa"
)

// Log is the subset of *journal.Journal a Transaction needs; defined here (rather than imported
// as a concrete type) only to keep this file's dependency surface explicit for testing with a
// fake journal.
type Log interface {
	Log(status journal.Status, gtrid xacoord.Uid, uniqueNames []string) error
}

// Transaction is the per-transaction Coordinator object: status, branch set, synchronizations,
// timeout and rollback-only flag.
type Transaction struct {
	mu sync.Mutex

	gtrid    xacoord.Uid
	serverID string
	status   Status

	branches         *scheduler.Scheduler[*branch.State]
	synchronizations *scheduler.Scheduler[Synchronization]

	rollbackOnly bool
	deadline     time.Time

	journal Log

	warnAboutZeroResourceTransaction bool
	asynchronous2Pc                  bool
}

// Options carries the per-transaction knobs the manager hands down at Begin.
type Options struct {
	Timeout                          time.Duration
	WarnAboutZeroResourceTransaction bool
	// Asynchronous2Pc dispatches phase jobs across a worker group of up to n-1 goroutines when
	// set; when clear the group has one worker goroutine, which still runs alongside the branch
	// executed on the caller, so branches are not run one at a time.
	Asynchronous2Pc bool
}

// New begins a transaction: allocates its gtrid and sets status ACTIVE.
func New(serverID string, j Log, opts Options) *Transaction {
	return &Transaction{
		gtrid:                            xacoord.NewUid(serverID),
		serverID:                         serverID,
		status:                           Active,
		branches:                         scheduler.New[*branch.State](),
		synchronizations:                 scheduler.New[Synchronization](),
		deadline:                         time.Now().Add(opts.Timeout),
		journal:                          j,
		warnAboutZeroResourceTransaction: opts.WarnAboutZeroResourceTransaction,
		asynchronous2Pc:                  opts.Asynchronous2Pc,
	}
}

// Gtrid returns the transaction's global identifier.
func (t *Transaction) Gtrid() xacoord.Uid { return t.gtrid }

// Status returns the current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// TimedOut reports whether the transaction has passed its commit deadline. It is polled by the
// Two-Phase Engine while phase jobs are outstanding; the task scheduler's timeout task marks the
// transaction rollback-only at the deadline without calling it.
func (t *Transaction) TimedOut() bool {
	return time.Now().After(t.deadline)
}

// MarkRollbackOnly is called by the timeout task or application code; it is the one mutation
// permitted from outside the owning goroutine.
func (t *Transaction) MarkRollbackOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.rollbackOnly = true
	if t.status == Active {
		t.status = MarkedRollback
	}
}

func (t *Transaction) setStatus(to Status) error {
	if err := checkTransition(t.status, to); err != nil {
		return err
	}
	t.status = to
	return nil
}

// RegisterSynchronization adds a before/after-completion callback at the given scheduler
// position (scheduler.DefaultPosition for user code, scheduler.InterposedPosition for
// internally registered cleanup such as pool bindings).
func (t *Transaction) RegisterSynchronization(s Synchronization, position int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.synchronizations.Add(s, position)
}

// EnlistBranch assigns a fresh Xid to resource and calls xa.Start, joining an already-enlisted
// branch on the same resource manager when useTmJoin allows it.
func (t *Transaction) EnlistBranch(ctx context.Context, resource xa.Resource, bean xa.Bean, emulating bool) (*branch.State, error) {
	t.mu.Lock()
	if t.status != Active {
		t.mu.Unlock()
		return nil, fmt.Errorf("xacoord/txn: cannot enlist a branch in status %s", t.status)
	}
	var joinTarget *branch.State
	if bean.UseTmJoin {
		for _, existing := range t.branches.All() {
			if existing.Bean().UseTmJoin && existing.Resource().IsSameRM(resource) {
				joinTarget = existing
				break
			}
		}
	}
	t.mu.Unlock()

	b := branch.New(resource, bean, emulating)
	xid := xacoord.NewXid(t.gtrid, t.serverID)
	if err := b.AssignXid(xid); err != nil {
		return nil, err
	}

	if bean.ApplyTransactionTimeout {
		secs := int(time.Until(t.deadline).Seconds())
		if secs < 1 {
			secs = 1
		}
		if err := resource.SetTransactionTimeout(secs); err != nil {
			return nil, fmt.Errorf("xacoord/txn: xa.setTransactionTimeout failed for %s: %w", bean.UniqueName, err)
		}
	}

	flags := xa.TMNOFLAGS
	if joinTarget != nil {
		flags = xa.TMJOIN
	}
	if err := resource.Start(ctx, xid, flags); err != nil {
		return nil, fmt.Errorf("xacoord/txn: xa.start failed for %s: %w", bean.UniqueName, err)
	}
	if err := b.MarkStarted(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.branches.Add(b, int(bean.TwoPcOrderingPosition))
	t.mu.Unlock()
	return b, nil
}

// DelistBranch ends a branch with the given completion flag (TMSUCCESS, TMFAIL or TMSUSPEND).
func (t *Transaction) DelistBranch(ctx context.Context, b *branch.State, flag xa.Flag) error {
	if err := b.Resource().End(ctx, b.Xid(), flag); err != nil {
		return fmt.Errorf("xacoord/txn: xa.end failed for %s: %w", b.UniqueName(), err)
	}
	switch flag {
	case xa.TMSUSPEND:
		return b.MarkSuspended()
	default:
		return b.MarkEnded()
	}
}

// Suspend delists every active branch with TMSUSPEND, leaving the transaction resumable on
// another goroutine.
func (t *Transaction) Suspend(ctx context.Context) error {
	for _, s := range t.branches.All() {
		if s.Started() && !s.Ended() && !s.Suspended() {
			if err := t.DelistBranch(ctx, s, xa.TMSUSPEND); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resume restarts every suspended branch with TMRESUME.
func (t *Transaction) Resume(ctx context.Context) error {
	for _, s := range t.branches.All() {
		if !s.Suspended() {
			continue
		}
		if err := s.Resource().Start(ctx, s.Xid(), xa.TMRESUME); err != nil {
			return fmt.Errorf("xacoord/txn: xa.start(TMRESUME) failed for %s: %w", s.UniqueName(), err)
		}
		if err := s.MarkResumed(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) branchesAsTwoPC() []twopc.Branch {
	states := t.branches.All()
	out := make([]twopc.Branch, len(states))
	for i, s := range states {
		out[i] = s
	}
	return out
}

func (t *Transaction) uniqueNames(branches []twopc.Branch) []string {
	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.UniqueName()
	}
	return names
}

func (t *Transaction) maxConcurrent(n int) int {
	if !t.asynchronous2Pc || n <= 1 {
		return 1
	}
	return n - 1
}

// Commit drives the full commit sequence: rollback-only check, delist active
// branches, Preparer, journal COMMITTING, Committer, journal COMMITTED. A failure to write the
// COMMITTED record leaves status UNKNOWN with the journal's last record COMMITTING; recovery
// completes the transaction from there. A heuristic or branch error in the commit phase still
// gets the COMMITTED record and leaves status UNKNOWN.
func (t *Transaction) Commit(ctx context.Context) (twopc.Outcome, error) {
	t.mu.Lock()
	if t.rollbackOnly {
		t.mu.Unlock()
		outcome, rerr := t.Rollback(ctx)
		if rerr != nil {
			return outcome, rerr
		}
		return outcome, &twopc.ErrRollback{Cause: errors.New("transaction was marked rollback-only")}
	}
	if t.branches.Len() == 0 && t.warnAboutZeroResourceTransaction {
		log.Warn("xacoord/txn: committing a transaction with zero enlisted resources", "gtrid", t.gtrid.String())
	}
	if err := t.setStatus(Preparing); err != nil {
		t.mu.Unlock()
		return twopc.Success, err
	}
	branches := t.branchesAsTwoPC()
	t.mu.Unlock()

	t.runBeforeCompletion()

	for _, s := range t.branches.All() {
		if s.Started() && !s.Ended() {
			if err := t.DelistBranch(ctx, s, xa.TMSUCCESS); err != nil {
				t.mu.Lock()
				_ = t.setStatus(Unknown)
				t.mu.Unlock()
				t.runAfterCompletion(Unknown)
				return twopc.Success, err
			}
		}
	}

	onePhase := len(branches) == 1

	participants, err := twopc.Prepare(ctx, branches, t.maxConcurrent(len(branches)), t.TimedOut)
	if err != nil {
		t.mu.Lock()
		_ = t.setStatus(RollingBack)
		t.mu.Unlock()
		outcome, rerr := t.doRollback(ctx)
		if rerr != nil {
			return outcome, fmt.Errorf("prepare failed (%w), rollback also failed: %v", err, rerr)
		}
		return outcome, err
	}

	t.mu.Lock()
	_ = t.setStatus(Prepared)
	_ = t.setStatus(Committing)
	t.mu.Unlock()

	// A one-phase commit made no durable prepare decision, so there is nothing for recovery to
	// drive forward and no COMMITTING record is written for it.
	if len(participants) > 0 && !onePhase {
		if err := t.journal.Log(journal.StatusCommitting, t.gtrid, t.uniqueNames(participants)); err != nil {
			t.mu.Lock()
			_ = t.setStatus(Unknown)
			t.mu.Unlock()
			t.runAfterCompletion(Unknown)
			return twopc.Success, fmt.Errorf("xacoord/txn: logging COMMITTING failed: %w", err)
		}
	}

	// The commit phase always runs to completion: per-branch failures are deferred and
	// classified, never aborting the phase. Heuristic outcomes are final for their branches
	// (forget has already been issued), so the terminal record is written either way --
	// reconciliation must stop here rather than re-drive these branches after a restart.
	outcome, cerr := twopc.Commit(ctx, participants, onePhase, t.maxConcurrent(len(participants)), t.TimedOut)

	if len(participants) > 0 {
		if err := t.journal.Log(journal.StatusCommitted, t.gtrid, t.uniqueNames(participants)); err != nil {
			t.mu.Lock()
			_ = t.setStatus(Unknown)
			t.mu.Unlock()
			t.runAfterCompletion(Unknown)
			return outcome, fmt.Errorf("xacoord/txn: logging COMMITTED failed: %w", err)
		}
	}

	if cerr != nil {
		t.mu.Lock()
		_ = t.setStatus(Unknown)
		t.mu.Unlock()
		t.runAfterCompletion(Unknown)
		return outcome, cerr
	}

	t.mu.Lock()
	_ = t.setStatus(Committed)
	t.mu.Unlock()
	t.runAfterCompletion(Committed)
	return outcome, nil
}

// Rollback drives the rollback sequence: end(TMFAIL) on every active branch, journal
// ROLLING_BACK, Rollbacker, journal ROLLEDBACK.
func (t *Transaction) Rollback(ctx context.Context) (twopc.Outcome, error) {
	t.mu.Lock()
	if err := t.setStatus(RollingBack); err != nil {
		t.mu.Unlock()
		return twopc.Success, err
	}
	t.mu.Unlock()

	t.runBeforeCompletion()

	for _, s := range t.branches.All() {
		if s.Started() && !s.Ended() {
			if err := s.Resource().End(ctx, s.Xid(), xa.TMFAIL); err != nil {
				log.Warn("xacoord/txn: xa.end(TMFAIL) failed", "resource", s.UniqueName(), "error", err)
			}
			_ = s.MarkEnded()
		}
	}

	return t.doRollback(ctx)
}

func (t *Transaction) doRollback(ctx context.Context) (twopc.Outcome, error) {
	branches := t.branchesAsTwoPC()
	names := t.uniqueNames(branches)
	if len(names) > 0 {
		if err := t.journal.Log(journal.StatusRollingBack, t.gtrid, names); err != nil {
			t.mu.Lock()
			_ = t.setStatus(Unknown)
			t.mu.Unlock()
			t.runAfterCompletion(Unknown)
			return twopc.Success, fmt.Errorf("xacoord/txn: logging ROLLING_BACK failed: %w", err)
		}
	}

	outcome, err := twopc.Rollback(ctx, branches, t.maxConcurrent(len(branches)), t.TimedOut)
	if err != nil {
		t.mu.Lock()
		_ = t.setStatus(Unknown)
		t.mu.Unlock()
		t.runAfterCompletion(Unknown)
		return outcome, err
	}

	if len(names) > 0 {
		if err := t.journal.Log(journal.StatusRolledBack, t.gtrid, names); err != nil {
			t.mu.Lock()
			_ = t.setStatus(Unknown)
			t.mu.Unlock()
			t.runAfterCompletion(Unknown)
			return outcome, fmt.Errorf("xacoord/txn: logging ROLLEDBACK failed: %w", err)
		}
	}

	t.mu.Lock()
	_ = t.setStatus(RolledBack)
	t.mu.Unlock()
	t.runAfterCompletion(RolledBack)
	return outcome, nil
}

func (t *Transaction) runBeforeCompletion() {
	for _, s := range t.synchronizations.All() {
		s.BeforeCompletion()
	}
}

func (t *Transaction) runAfterCompletion(status Status) {
	for _, s := range t.synchronizations.All() {
		s.AfterCompletion(status)
	}
}

package txn

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/journal"
	"github.com/sharedcode/xacoord/internal/twopc"
	"github.com/sharedcode/xacoord/internal/xa"
)

type fakeJournal struct {
	entries []journalEntry
}

type journalEntry struct {
	status journal.Status
	gtrid  xacoord.Uid
	names  []string
}

func (j *fakeJournal) Log(status journal.Status, gtrid xacoord.Uid, names []string) error {
	j.entries = append(j.entries, journalEntry{status: status, gtrid: gtrid, names: names})
	return nil
}

func (j *fakeJournal) statusesFor(gtrid xacoord.Uid) []journal.Status {
	var out []journal.Status
	for _, e := range j.entries {
		if e.gtrid.Equal(gtrid) {
			out = append(out, e.status)
		}
	}
	return out
}

type fakeResource struct {
	prepareFn func(xacoord.Xid) (xa.Vote, error)
	commitFn  func(xacoord.Xid, bool) error
}

func (r *fakeResource) Start(context.Context, xacoord.Xid, xa.Flag) error { return nil }
func (r *fakeResource) End(context.Context, xacoord.Xid, xa.Flag) error   { return nil }
func (r *fakeResource) Prepare(_ context.Context, xid xacoord.Xid) (xa.Vote, error) {
	if r.prepareFn != nil {
		return r.prepareFn(xid)
	}
	return xa.XAOK, nil
}
func (r *fakeResource) Commit(_ context.Context, xid xacoord.Xid, onePhase bool) error {
	if r.commitFn != nil {
		return r.commitFn(xid, onePhase)
	}
	return nil
}
func (r *fakeResource) Rollback(context.Context, xacoord.Xid) error             { return nil }
func (r *fakeResource) Forget(context.Context, xacoord.Xid) error               { return nil }
func (r *fakeResource) Recover(context.Context, xa.Flag) ([]xacoord.Xid, error) { return nil, nil }
func (r *fakeResource) IsSameRM(xa.Resource) bool                               { return false }
func (r *fakeResource) SetTransactionTimeout(int) error                         { return nil }

func newTxn(j Log) *Transaction {
	return New("node", j, Options{Timeout: time.Minute, Asynchronous2Pc: true})
}

func TestCommitZeroBranchesSucceedsWithoutJournaling(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)

	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(j.entries) != 0 {
		t.Fatalf("zero-branch commit should not journal anything, got %v", j.entries)
	}
	if tx.Status() != Committed {
		t.Fatalf("Status() = %s, want COMMITTED", tx.Status())
	}
}

func TestCommitSingleBranchUsesOnePhaseNoCommittingRecord(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)

	var gotOnePhase bool
	res := &fakeResource{commitFn: func(_ xacoord.Xid, onePhase bool) error {
		gotOnePhase = onePhase
		return nil
	}}
	bean := xa.Bean{UniqueName: "res-a"}
	if _, err := tx.EnlistBranch(context.Background(), res, bean, false); err != nil {
		t.Fatalf("EnlistBranch: %v", err)
	}

	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !gotOnePhase {
		t.Fatal("single-branch commit should pass onePhase=true")
	}

	statuses := j.statusesFor(tx.Gtrid())
	for _, s := range statuses {
		if s == journal.StatusCommitting {
			t.Fatal("1PC commit must not log a COMMITTING record")
		}
	}
	if len(statuses) == 0 || statuses[len(statuses)-1] != journal.StatusCommitted {
		t.Fatalf("final journal status = %v, want COMMITTED", statuses)
	}
	if tx.Status() != Committed {
		t.Fatalf("Status() = %s, want COMMITTED", tx.Status())
	}
}

func TestCommitTwoBranchesLogsCommittingThenCommitted(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)

	for _, name := range []string{"res-a", "res-b"} {
		if _, err := tx.EnlistBranch(context.Background(), &fakeResource{}, xa.Bean{UniqueName: name}, false); err != nil {
			t.Fatalf("EnlistBranch(%s): %v", name, err)
		}
	}

	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	statuses := j.statusesFor(tx.Gtrid())
	if len(statuses) != 2 || statuses[0] != journal.StatusCommitting || statuses[1] != journal.StatusCommitted {
		t.Fatalf("journal statuses = %v, want [COMMITTING COMMITTED]", statuses)
	}
}

func TestCommitReadOnlyVoteSuppressesCommitCall(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)

	roCalled := false
	ro := &fakeResource{
		prepareFn: func(xacoord.Xid) (xa.Vote, error) { return xa.XARDONLY, nil },
		commitFn:  func(xacoord.Xid, bool) error { roCalled = true; return nil },
	}
	rw := &fakeResource{}

	if _, err := tx.EnlistBranch(context.Background(), ro, xa.Bean{UniqueName: "ro"}, false); err != nil {
		t.Fatalf("EnlistBranch(ro): %v", err)
	}
	if _, err := tx.EnlistBranch(context.Background(), rw, xa.Bean{UniqueName: "rw"}, false); err != nil {
		t.Fatalf("EnlistBranch(rw): %v", err)
	}

	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if roCalled {
		t.Fatal("read-only voter must not have Commit called on it")
	}
}

func TestRollbackOnlyConvertsCommitToRollback(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)

	if _, err := tx.EnlistBranch(context.Background(), &fakeResource{}, xa.Bean{UniqueName: "res-a"}, false); err != nil {
		t.Fatalf("EnlistBranch: %v", err)
	}
	tx.MarkRollbackOnly()

	_, err := tx.Commit(context.Background())
	if err == nil {
		t.Fatal("commit of a rollback-only transaction should surface a rollback error")
	}
	if _, ok := err.(*twopc.ErrRollback); !ok {
		t.Fatalf("err = %T, want *twopc.ErrRollback", err)
	}
	if tx.Status() != RolledBack {
		t.Fatalf("Status() = %s, want ROLLEDBACK", tx.Status())
	}
}

func TestCommitHeuristicOutcomeStillWritesTerminalRecord(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)

	clean := &fakeResource{}
	heur := &fakeResource{commitFn: func(xacoord.Xid, bool) error {
		return &xa.Error{Code: xa.XAHeurRB}
	}}
	if _, err := tx.EnlistBranch(context.Background(), clean, xa.Bean{UniqueName: "clean"}, false); err != nil {
		t.Fatalf("EnlistBranch(clean): %v", err)
	}
	if _, err := tx.EnlistBranch(context.Background(), heur, xa.Bean{UniqueName: "heur"}, false); err != nil {
		t.Fatalf("EnlistBranch(heur): %v", err)
	}

	outcome, err := tx.Commit(context.Background())
	if err == nil {
		t.Fatal("expected a heuristic error from commit")
	}
	if outcome != twopc.HeuristicMixed {
		t.Fatalf("outcome = %v, want HeuristicMixed (one clean commit, one heuristic rollback)", outcome)
	}
	statuses := j.statusesFor(tx.Gtrid())
	if len(statuses) == 0 || statuses[len(statuses)-1] != journal.StatusCommitted {
		t.Fatalf("journal statuses = %v, want terminal COMMITTED so recovery stops here", statuses)
	}
	if tx.Status() != Unknown {
		t.Fatalf("Status() = %s, want UNKNOWN after a heuristic mixed outcome", tx.Status())
	}
}

func TestMarkRollbackOnlyFromActiveSetsMarkedRollback(t *testing.T) {
	tx := newTxn(&fakeJournal{})
	tx.MarkRollbackOnly()
	if tx.Status() != MarkedRollback {
		t.Fatalf("Status() = %s, want MARKED_ROLLBACK", tx.Status())
	}
}

func TestEnlistBranchRejectedAfterActive(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)
	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := tx.EnlistBranch(context.Background(), &fakeResource{}, xa.Bean{UniqueName: "late"}, false); err == nil {
		t.Fatal("expected error enlisting a branch after the transaction left ACTIVE")
	}
}

type recordingSync struct {
	before int
	after  []Status
}

func (s *recordingSync) BeforeCompletion()             { s.before++ }
func (s *recordingSync) AfterCompletion(status Status) { s.after = append(s.after, status) }

func TestSynchronizationsRunOnCompletion(t *testing.T) {
	j := &fakeJournal{}
	tx := newTxn(j)
	sync := &recordingSync{}
	tx.RegisterSynchronization(sync, 0)

	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if sync.before != 1 {
		t.Fatalf("BeforeCompletion called %d times, want 1", sync.before)
	}
	if len(sync.after) != 1 || sync.after[0] != Committed {
		t.Fatalf("AfterCompletion calls = %v, want [COMMITTED]", sync.after)
	}
}

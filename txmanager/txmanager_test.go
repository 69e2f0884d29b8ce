package txmanager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sharedcode/xacoord"
)

func testConfig(t *testing.T) xacoord.Configuration {
	t.Helper()
	dir := t.TempDir()
	cfg := xacoord.DefaultConfiguration()
	cfg.LogPart1Filename = filepath.Join(dir, "log1")
	cfg.LogPart2Filename = filepath.Join(dir, "log2")
	cfg.ForcedWriteEnabled = false
	cfg.ForceBatchingEnabled = false
	cfg.DefaultTransactionTimeout = time.Minute
	cfg.BackgroundRecoveryInterval = 0
	return cfg
}

func TestBeginBindsTransactionToContext(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	ctx, tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tx == nil {
		t.Fatal("Begin returned a nil transaction")
	}

	current, ok := m.Current(ctx)
	if !ok || current != tx {
		t.Fatalf("Current() = %v, %v, want the transaction Begin returned", current, ok)
	}
}

func TestBeginTwiceOnSameContextFails(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	ctx, _, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, _, err := m.Begin(ctx); err == nil {
		t.Fatal("expected error beginning a second transaction on an already-bound context")
	}
}

func TestCommitClearsBinding(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	ctx, _, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok := m.Current(ctx); ok {
		t.Fatal("Current() should report no transaction bound after Commit")
	}
}

func TestCommitWithNoBoundTransactionErrors(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	if _, err := m.Commit(context.Background()); err == nil {
		t.Fatal("expected error committing with no bound transaction")
	}
}

func TestSuspendResumeRebindsOnDifferentContext(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	ctx, tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	suspended, err := m.Suspend(ctx)
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended != tx {
		t.Fatal("Suspend should return the same transaction that was bound")
	}
	if _, ok := m.Current(ctx); ok {
		t.Fatal("Current() should report unbound after Suspend")
	}

	ctx2, err := m.Resume(context.Background(), suspended)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	current, ok := m.Current(ctx2)
	if !ok || current != tx {
		t.Fatalf("Current() after Resume = %v, %v, want original transaction", current, ok)
	}
}

func TestCommitOfRollbackOnlyTransactionClassifiedAsRollbackError(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	ctx, tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.MarkRollbackOnly()

	_, err = m.Commit(ctx)
	if err == nil {
		t.Fatal("expected an error committing a rollback-only transaction")
	}
	var coordErr *xacoord.Error
	if !errors.As(err, &coordErr) || coordErr.Kind != xacoord.RollbackError {
		t.Fatalf("err = %v, want *xacoord.Error with Kind=RollbackError", err)
	}
}

func TestIsActiveTracksBegunTransactions(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	ctx, tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !m.IsActive(tx.Gtrid()) {
		t.Fatal("IsActive should be true for a begun, uncompleted transaction")
	}

	if _, err := m.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if m.IsActive(tx.Gtrid()) {
		t.Fatal("IsActive should be false once the transaction has completed")
	}
}

func TestCollectDanglingRecordsReflectsJournal(t *testing.T) {
	m, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown()

	dangling, err := m.CollectDanglingRecords()
	if err != nil {
		t.Fatalf("CollectDanglingRecords: %v", err)
	}
	if len(dangling) != 0 {
		t.Fatalf("fresh manager should have no dangling records, got %v", dangling)
	}
}

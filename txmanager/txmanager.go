// Package txmanager is the Transaction Manager façade: Begin/Commit/Rollback/Suspend/Resume plus
// a goroutine-affine current-transaction binding. Go has no thread-local storage, so the
// binding is an explicit map keyed by a correlation id carried through context.Context.
package txmanager

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/journal"
	"github.com/sharedcode/xacoord/internal/recovery"
	"github.com/sharedcode/xacoord/internal/registry"
	"github.com/sharedcode/xacoord/internal/taskscheduler"
	"github.com/sharedcode/xacoord/internal/twopc"
	"github.com/sharedcode/xacoord/internal/txn"
)

type correlationKey struct{}

// WithCorrelationID returns a context carrying id as the binding key used to look up the
// currently-bound transaction. Begin and Resume allocate fresh ids themselves; callers only
// need this to re-derive a context for an id they saved earlier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok
}

// Manager is the process-wide transaction manager.
type Manager struct {
	cfg xacoord.Configuration

	journal   *journal.Journal
	registry  *registry.Registry
	recoverer *recovery.Recoverer
	scheduler *taskscheduler.Scheduler

	bindingsMu sync.Mutex
	bindings   map[string]*txn.Transaction

	activeMu sync.Mutex
	active   map[string]*activeEntry
}

type activeEntry struct {
	gtrid       xacoord.Uid
	start       time.Time
	timeoutTask taskscheduler.Handle
}

// New wires the journal, registry, recovery engine and task scheduler into one façade, and
// starts background recovery if cfg.BackgroundRecoveryInterval > 0.
func New(cfg xacoord.Configuration) (*Manager, error) {
	j, err := journal.Open(journal.Config{
		Filename1:            cfg.LogPart1Filename,
		Filename2:            cfg.LogPart2Filename,
		MaxLogSizeInMb:       cfg.MaxLogSizeInMb,
		ForcedWriteEnabled:   cfg.ForcedWriteEnabled,
		ForceBatchingEnabled: cfg.ForceBatchingEnabled,
		SkipCorruptedLogs:    cfg.SkipCorruptedLogs,
	})
	if err != nil {
		return nil, fmt.Errorf("xacoord/txmanager: opening journal: %w", err)
	}

	reg := registry.New()
	m := &Manager{
		cfg:      cfg,
		journal:  j,
		registry: reg,
		bindings: make(map[string]*txn.Transaction),
		active:   make(map[string]*activeEntry),
	}
	m.recoverer = recovery.New(reg, j, cfg.ServerID, cfg.CurrentNodeOnlyRecovery, m)
	m.scheduler = taskscheduler.New()

	if cfg.BackgroundRecoveryInterval > 0 {
		m.scheduleBackgroundRecovery()
	}
	if _, err := m.recoverer.RunFull(context.Background()); err != nil {
		log.Error("xacoord/txmanager: startup recovery failed", "error", err)
	}

	return m, nil
}

func (m *Manager) scheduleBackgroundRecovery() {
	task := taskscheduler.BackgroundRecoveryTask{RunRecovery: func() {
		if _, err := m.recoverer.RunFull(context.Background()); err != nil {
			log.Error("xacoord/txmanager: background recovery failed", "error", err)
		}
		m.scheduleBackgroundRecovery()
	}}
	m.scheduler.Schedule(task, time.Now().Add(m.cfg.BackgroundRecoveryInterval))
}

// Registry exposes the resource registry so resource adapters can self-register at startup.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Recoverer exposes the recovery engine, e.g. for the admin HTTP surface.
func (m *Manager) Recoverer() *recovery.Recoverer { return m.recoverer }

// CollectDanglingRecords exposes the journal's in-doubt records to the admin HTTP surface
// without leaking the journal itself.
func (m *Manager) CollectDanglingRecords() ([]journal.Record, error) {
	return m.journal.CollectDanglingRecords()
}

// Begin starts a new transaction, binds it to a fresh correlation id carried in the returned
// context, and schedules its timeout task.
func (m *Manager) Begin(ctx context.Context) (context.Context, *txn.Transaction, error) {
	if _, bound := correlationID(ctx); bound {
		return nil, nil, fmt.Errorf("xacoord/txmanager: a transaction is already bound on this context")
	}

	id := uuid.NewString()

	t := txn.New(m.cfg.ServerID, m.journal, txn.Options{
		Timeout:                          m.cfg.DefaultTransactionTimeout,
		WarnAboutZeroResourceTransaction: m.cfg.WarnAboutZeroResourceTransaction,
		Asynchronous2Pc:                  m.cfg.Asynchronous2Pc,
	})

	m.bindingsMu.Lock()
	m.bindings[id] = t
	m.bindingsMu.Unlock()

	handle := m.scheduler.Schedule(taskscheduler.TransactionTimeoutTask{
		GtridHint: t.Gtrid().String(),
		Owner:     t,
	}, time.Now().Add(m.cfg.DefaultTransactionTimeout))

	m.activeMu.Lock()
	m.active[id] = &activeEntry{gtrid: t.Gtrid(), start: time.Now(), timeoutTask: handle}
	m.activeMu.Unlock()

	return WithCorrelationID(ctx, id), t, nil
}

// Current returns the transaction bound to ctx, if any.
func (m *Manager) Current(ctx context.Context) (*txn.Transaction, bool) {
	id, ok := correlationID(ctx)
	if !ok {
		return nil, false
	}
	m.bindingsMu.Lock()
	defer m.bindingsMu.Unlock()
	t, ok := m.bindings[id]
	return t, ok
}

// Commit commits the transaction bound to ctx and clears the binding. Errors are classified
// into the coordinator's error kinds (rollback, heuristic, timeout, protocol, system).
func (m *Manager) Commit(ctx context.Context) (twopc.Outcome, error) {
	t, ok := m.Current(ctx)
	if !ok {
		return twopc.Success, fmt.Errorf("xacoord/txmanager: no transaction bound on this context")
	}
	outcome, err := t.Commit(ctx)
	m.unbind(ctx, t)
	return outcome, classifyError(t.Gtrid(), outcome, err)
}

// Rollback rolls back the transaction bound to ctx and clears the binding.
func (m *Manager) Rollback(ctx context.Context) (twopc.Outcome, error) {
	t, ok := m.Current(ctx)
	if !ok {
		return twopc.Success, fmt.Errorf("xacoord/txmanager: no transaction bound on this context")
	}
	outcome, err := t.Rollback(ctx)
	m.unbind(ctx, t)
	return outcome, classifyError(t.Gtrid(), outcome, err)
}

// classifyError wraps a completion error in the coordinator's ErrorKind vocabulary so callers
// can switch on the kind rather than string-matching.
func classifyError(gtrid xacoord.Uid, outcome twopc.Outcome, err error) error {
	if err == nil {
		return nil
	}
	var rollbackErr *twopc.ErrRollback
	kind := xacoord.SystemError
	switch {
	case errors.Is(err, twopc.ErrTimeout):
		kind = xacoord.TimeoutError
	case errors.As(err, &rollbackErr):
		kind = xacoord.RollbackError
	case errors.Is(err, txn.ErrProtocol):
		kind = xacoord.ProtocolError
	case outcome == twopc.HeuristicRollback:
		kind = xacoord.HeuristicRollbackError
	case outcome == twopc.HeuristicMixed:
		kind = xacoord.HeuristicMixedError
	}
	return xacoord.NewError(kind, err, gtrid.String())
}

// Suspend suspends every active branch (End with TMSUSPEND) and detaches the transaction from
// ctx, returning a token Resume can later bind to a (possibly different) goroutine's context.
func (m *Manager) Suspend(ctx context.Context) (*txn.Transaction, error) {
	id, ok := correlationID(ctx)
	if !ok {
		return nil, fmt.Errorf("xacoord/txmanager: no transaction bound on this context")
	}
	m.bindingsMu.Lock()
	t, ok := m.bindings[id]
	if ok {
		delete(m.bindings, id)
	}
	m.bindingsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("xacoord/txmanager: no transaction bound on this context")
	}
	if err := t.Suspend(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Resume restarts the suspended branches (Start with TMRESUME) and rebinds t onto ctx.
func (m *Manager) Resume(ctx context.Context, t *txn.Transaction) (context.Context, error) {
	if _, bound := correlationID(ctx); bound {
		return nil, fmt.Errorf("xacoord/txmanager: a transaction is already bound on this context")
	}
	if err := t.Resume(ctx); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	m.bindingsMu.Lock()
	m.bindings[id] = t
	m.bindingsMu.Unlock()
	return WithCorrelationID(ctx, id), nil
}

func (m *Manager) unbind(ctx context.Context, t *txn.Transaction) {
	if id, ok := correlationID(ctx); ok {
		m.bindingsMu.Lock()
		delete(m.bindings, id)
		m.bindingsMu.Unlock()
	}
	m.activeMu.Lock()
	for id, e := range m.active {
		if e.gtrid.Equal(t.Gtrid()) {
			m.scheduler.Cancel(e.timeoutTask)
			delete(m.active, id)
		}
	}
	m.activeMu.Unlock()
}

// OldestActiveStart and IsActive implement recovery.InFlight.
func (m *Manager) OldestActiveStart() (time.Time, bool) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	var oldest time.Time
	found := false
	for _, e := range m.active {
		if !found || e.start.Before(oldest) {
			oldest = e.start
			found = true
		}
	}
	return oldest, found
}

func (m *Manager) IsActive(gtrid xacoord.Uid) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	for _, e := range m.active {
		if e.gtrid.Equal(gtrid) {
			return true
		}
	}
	return false
}

// Shutdown drains the task scheduler and flushes the journal.
func (m *Manager) Shutdown() error {
	m.scheduler.Shutdown(m.cfg.GracefulShutdownInterval)
	return m.journal.Shutdown()
}

package taskscheduler

import log "log/slog"

// TransactionTimeoutTask marks owner rollback-only once its deadline is reached.
type TransactionTimeoutTask struct {
	GtridHint string
	Owner     interface{ MarkRollbackOnly() }
}

func (t TransactionTimeoutTask) Run() {
	log.Warn("xacoord/taskscheduler: transaction timed out, marking rollback-only", "gtrid", t.GtridHint)
	t.Owner.MarkRollbackOnly()
}

// PoolShrinkingTask invokes a resource pool's shrink hook on its configured interval.
type PoolShrinkingTask struct {
	PoolName string
	Shrink   func()
}

func (t PoolShrinkingTask) Run() {
	t.Shrink()
}

// BackgroundRecoveryTask dispatches a full recovery pass; recovery itself must not block the
// scheduler thread, so Run only launches it.
type BackgroundRecoveryTask struct {
	RunRecovery func()
}

func (t BackgroundRecoveryTask) Run() {
	go t.RunRecovery()
}

// Package recovery implements the Recovery Engine: full and incremental in-doubt transaction
// reconciliation against the journal and each registered resource's xa.Recover scan.
package recovery

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/journal"
	"github.com/sharedcode/xacoord/internal/registry"
	"github.com/sharedcode/xacoord/internal/xa"
	"golang.org/x/sync/singleflight"
)

// Log is the journal surface recovery needs.
type Log interface {
	CollectDanglingRecords() ([]journal.Record, error)
}

// InFlight reports the set of transactions currently active in this process, used by the
// skip-in-flight rule. It is implemented by the txmanager façade.
type InFlight interface {
	OldestActiveStart() (time.Time, bool)
	IsActive(gtrid xacoord.Uid) bool
}

// Result carries the observability counters exposed after a recovery pass.
type Result struct {
	CommittedCount       int
	RolledbackCount      int
	SkippedInFlightCount int
	CompletionException  error
}

// Recoverer runs full and incremental recovery passes.
type Recoverer struct {
	registry                *registry.Registry
	journal                 Log
	serverID                string
	currentNodeOnlyRecovery bool
	inFlight                InFlight

	sf singleflight.Group

	committed  atomic.Int64
	rolledback atomic.Int64

	incrementalMu sync.Map // uniqueName -> *sync.Mutex, serializes per-resource incremental recovery
}

// New builds a Recoverer over reg/j, scoping recovery to serverID's own Xids when
// currentNodeOnlyRecovery is set.
func New(reg *registry.Registry, j Log, serverID string, currentNodeOnlyRecovery bool, inFlight InFlight) *Recoverer {
	return &Recoverer{
		registry:                reg,
		journal:                 j,
		serverID:                serverID,
		currentNodeOnlyRecovery: currentNodeOnlyRecovery,
		inFlight:                inFlight,
	}
}

// Counters returns the running totals since process start.
func (r *Recoverer) Counters() (committed, rolledback int64) {
	return r.committed.Load(), r.rolledback.Load()
}

// RunFull performs a full recovery pass across every registered resource. Only one full scan
// runs at a time process-wide; a concurrent caller joins the in-flight scan and receives its
// result rather than starting a second one.
func (r *Recoverer) RunFull(ctx context.Context) (Result, error) {
	v, err, _ := r.sf.Do("full", func() (interface{}, error) {
		return r.runFullLocked(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Recoverer) runFullLocked(ctx context.Context) (Result, error) {
	scanStart := time.Now()

	dangling, err := r.journal.CollectDanglingRecords()
	if err != nil {
		return Result{}, fmt.Errorf("xacoord/recovery: collecting dangling records: %w", err)
	}
	danglingByGtrid := recordsToMap(dangling)

	var result Result
	for _, producer := range r.registry.All() {
		res, err := producer.GetXAResource()
		if err != nil {
			log.Warn("xacoord/recovery: acquiring resource for recovery scan failed", "resource", producer.UniqueName(), "error", err)
			continue
		}
		xids, err := r.scanResource(ctx, res)
		if err != nil {
			log.Warn("xacoord/recovery: xa.recover failed", "resource", producer.UniqueName(), "error", err)
			result.CompletionException = err
			continue
		}
		for _, xid := range xids {
			r.reconcileOne(ctx, producer.Bean().UniqueName, res, xid, danglingByGtrid, scanStart, &result)
		}
	}
	return result, nil
}

// scanResource drives the TMSTARTRSCAN/TMNOFLAGS/TMENDRSCAN sequence and filters to Xids
// belonging to this coordinator's brand, and (if configured) this server's own gtrids.
func (r *Recoverer) scanResource(ctx context.Context, res xa.Resource) ([]xacoord.Xid, error) {
	var out []xacoord.Xid

	first, err := res.Recover(ctx, xa.TMSTARTRSCAN)
	if err != nil {
		return nil, err
	}
	out = append(out, first...)

	for {
		batch, err := res.Recover(ctx, xa.TMNOFLAGS)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
	}

	if _, err := res.Recover(ctx, xa.TMENDRSCAN); err != nil {
		return nil, err
	}

	filtered := out[:0]
	for _, xid := range out {
		if !xid.IsOurBrand() {
			log.Warn("xacoord/recovery: skipping foreign-brand xid", "xid", xid.String())
			continue
		}
		if r.currentNodeOnlyRecovery && xid.Gtrid.ServerID() != r.serverID {
			log.Warn("xacoord/recovery: skipping xid from another server", "xid", xid.String())
			continue
		}
		filtered = append(filtered, xid)
	}
	return filtered, nil
}

func (r *Recoverer) reconcileOne(ctx context.Context, uniqueName string, res xa.Resource, xid xacoord.Xid, dangling map[string]journal.Record, scanStart time.Time, result *Result) {
	rec, inDangling := dangling[xid.Gtrid.String()]

	if r.skipInFlight(xid, rec, inDangling, scanStart) {
		result.SkippedInFlightCount++
		return
	}

	if inDangling && rec.Status == journal.StatusCommitting && containsName(rec.UniqueNames, uniqueName) {
		r.finishCommit(ctx, res, xid, result)
		return
	}
	r.presumedAbort(ctx, res, xid, result)
}

// skipInFlight is the gtrid-aware reading of the skip rule: an in-doubt branch is left alone
// only if its gtrid is one this process currently has active AND its timestamp falls between
// the oldest active transaction's start and the scan start -- i.e. it could plausibly be the
// in-flight transaction finishing right now, not an older crash-orphaned one that merely shares
// a server id. An active transaction that has not yet journaled anything has no dangling record,
// so the gtrid's own embedded timestamp stands in for the record's.
func (r *Recoverer) skipInFlight(xid xacoord.Xid, rec journal.Record, inDangling bool, scanStart time.Time) bool {
	if r.inFlight == nil {
		return false
	}
	if !r.inFlight.IsActive(xid.Gtrid) {
		return false
	}
	oldest, ok := r.inFlight.OldestActiveStart()
	if !ok {
		return false
	}
	ts := time.UnixMilli(xid.Gtrid.TimestampMs())
	if inDangling {
		ts = time.UnixMilli(rec.TimestampMs)
	}
	return ts.After(oldest) && ts.Before(scanStart)
}

func (r *Recoverer) finishCommit(ctx context.Context, res xa.Resource, xid xacoord.Xid, result *Result) {
	err := res.Commit(ctx, xid, false)
	if err == nil {
		r.committed.Add(1)
		result.CommittedCount++
		return
	}
	xaErr, ok := err.(*xa.Error)
	if !ok {
		log.Warn("xacoord/recovery: commit-in-recovery failed, leaving for next pass", "xid", xid.String(), "error", err)
		return
	}
	switch xaErr.Code {
	case xa.XAHeurCom:
		r.forget(ctx, res, xid)
		r.committed.Add(1)
		result.CommittedCount++
	case xa.XAHeurRB, xa.XAHeurMix, xa.XAHeurHaz:
		log.Error("xacoord/recovery: heuristic outcome completing commit", "xid", xid.String(), "code", xaErr.Code)
		r.forget(ctx, res, xid)
	default:
		log.Warn("xacoord/recovery: commit-in-recovery failed, leaving for next pass", "xid", xid.String(), "code", xaErr.Code)
	}
}

func (r *Recoverer) presumedAbort(ctx context.Context, res xa.Resource, xid xacoord.Xid, result *Result) {
	err := res.Rollback(ctx, xid)
	if err == nil {
		r.rolledback.Add(1)
		result.RolledbackCount++
		return
	}
	xaErr, ok := err.(*xa.Error)
	if !ok {
		log.Warn("xacoord/recovery: presumed-abort rollback failed, leaving for next pass", "xid", xid.String(), "error", err)
		return
	}
	switch xaErr.Code {
	case xa.XAHeurRB:
		r.forget(ctx, res, xid)
		r.rolledback.Add(1)
		result.RolledbackCount++
	case xa.XAHeurCom, xa.XAHeurMix, xa.XAHeurHaz:
		log.Error("xacoord/recovery: heuristic outcome during presumed-abort rollback", "xid", xid.String(), "code", xaErr.Code)
		r.forget(ctx, res, xid)
	default:
		log.Warn("xacoord/recovery: presumed-abort rollback failed, leaving for next pass", "xid", xid.String(), "code", xaErr.Code)
	}
}

func (r *Recoverer) forget(ctx context.Context, res xa.Resource, xid xacoord.Xid) {
	if err := res.Forget(ctx, xid); err != nil {
		log.Warn("xacoord/recovery: forget failed", "xid", xid.String(), "error", err)
	}
}

func recordsToMap(records []journal.Record) map[string]journal.Record {
	out := make(map[string]journal.Record, len(records))
	for _, rec := range records {
		out[rec.Gtrid.String()] = rec
	}
	return out
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

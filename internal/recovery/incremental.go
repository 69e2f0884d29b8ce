package recovery

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/xacoord/internal/registry"
)

// RunIncremental restricts the full-recovery algorithm to a single resource. Per-resource runs
// are serialized; a failed scan marks the resource "failed" in the registry (never unregistering
// it) and is retried with Fibonacci backoff (100ms base) up to 5 times. A successful scan clears
// the failed flag; if every retry fails, an error is returned and the resource stays failed.
func (r *Recoverer) RunIncremental(ctx context.Context, uniqueName string) error {
	muIface, _ := r.incrementalMu.LoadOrStore(uniqueName, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	producer, ok := r.registry.Lookup(uniqueName)
	if !ok {
		return fmt.Errorf("xacoord/recovery: no resource registered as %q", uniqueName)
	}

	backoff := retry.NewFibonacci(100 * time.Millisecond)
	backoff = retry.WithMaxRetries(5, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if scanErr := r.scanOneResource(ctx, producer); scanErr != nil {
			r.registry.MarkFailed(uniqueName, true)
			log.Warn("xacoord/recovery: incremental recovery attempt failed, retrying", "resource", uniqueName, "error", scanErr)
			return retry.RetryableError(scanErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xacoord/recovery: incremental recovery for %s exhausted retries: %w", uniqueName, err)
	}

	r.registry.MarkFailed(uniqueName, false)
	return nil
}

func (r *Recoverer) scanOneResource(ctx context.Context, producer registry.Producer) error {
	res, err := producer.GetXAResource()
	if err != nil {
		return err
	}

	scanStart := time.Now()
	dangling, err := r.journal.CollectDanglingRecords()
	if err != nil {
		return err
	}
	danglingByGtrid := recordsToMap(dangling)

	xids, err := r.scanResource(ctx, res)
	if err != nil {
		return err
	}

	var result Result
	for _, xid := range xids {
		r.reconcileOne(ctx, producer.Bean().UniqueName, res, xid, danglingByGtrid, scanStart, &result)
	}
	return nil
}

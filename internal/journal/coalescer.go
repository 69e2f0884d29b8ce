package journal

import "sync"

// syncCoalescer lets many concurrent callers share one physical fsync. Each caller names the
// append sequence number it needs durable; whichever caller finds no flush in flight performs
// it, and every other caller waiting on a sequence number covered by that flush is released by
// the same call. This is the force-batching behavior: Log() calls still wait
// for their own record, but a burst of concurrent calls pays for one fsync, not N.
type syncCoalescer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	gen      uint64
	flushing bool
}

func (c *syncCoalescer) syncAfter(want uint64, flush func() error) error {
	c.mu.Lock()
	if c.cond == nil {
		c.cond = sync.NewCond(&c.mu)
	}
	for {
		if c.gen >= want {
			c.mu.Unlock()
			return nil
		}
		if c.flushing {
			c.cond.Wait()
			continue
		}
		c.flushing = true
		c.mu.Unlock()

		err := flush()

		c.mu.Lock()
		c.flushing = false
		if err == nil && want > c.gen {
			c.gen = want
		}
		c.cond.Broadcast()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		// Loop back: gen now covers want (or another flush satisfied it concurrently).
	}
}

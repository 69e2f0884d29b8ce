// Package registry implements the process-wide resource registry: a mapping from a resource's
// uniqueName to the ResourceProducer that can hand out fresh handles to it, plus the "failed"
// flag used by incremental recovery.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/sharedcode/xacoord/internal/xa"
)

// Producer constructs a usable xa.Resource handle and carries the resource's Bean descriptor.
// It is what pools/adapters register so that recovery can locate a resource purely by the
// uniqueName stored in journal records.
type Producer interface {
	UniqueName() string
	Bean() xa.Bean
	GetXAResource() (xa.Resource, error)
}

type entry struct {
	producer Producer
	failed   atomic.Bool
}

// Registry is the process-wide uniqueName -> Producer map. Mutation is mutex-guarded; reads
// take a lock-free snapshot of the current entry set.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[string]*entry]
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	empty := make(map[string]*entry)
	r.entries.Store(&empty)
	return r
}

// Register adds or replaces the Producer for its UniqueName.
func (r *Registry) Register(p Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.copyEntries()
	next[p.UniqueName()] = &entry{producer: p}
	r.entries.Store(&next)
}

// Unregister removes the Producer registered under uniqueName, if any.
func (r *Registry) Unregister(uniqueName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.copyEntries()
	delete(next, uniqueName)
	r.entries.Store(&next)
}

func (r *Registry) copyEntries() map[string]*entry {
	cur := *r.entries.Load()
	next := make(map[string]*entry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}

// Lookup returns the Producer registered under uniqueName, or ok=false if none is registered.
// A resource remains registered even while marked failed: it is never auto-unregistered.
func (r *Registry) Lookup(uniqueName string) (Producer, bool) {
	entries := *r.entries.Load()
	e, ok := entries[uniqueName]
	if !ok {
		return nil, false
	}
	return e.producer, true
}

// All returns every currently registered Producer, snapshot style.
func (r *Registry) All() []Producer {
	entries := *r.entries.Load()
	out := make([]Producer, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.producer)
	}
	return out
}

// MarkFailed sets or clears the failed flag for uniqueName. A producer stays registered
// regardless; the Coordinator never inspects this flag, only the recovery/acquisition paths do.
func (r *Registry) MarkFailed(uniqueName string, failed bool) {
	entries := *r.entries.Load()
	if e, ok := entries[uniqueName]; ok {
		e.failed.Store(failed)
	}
}

// IsFailed reports whether uniqueName is currently marked failed. Returns false for an
// unregistered name.
func (r *Registry) IsFailed(uniqueName string) bool {
	entries := *r.entries.Load()
	e, ok := entries[uniqueName]
	if !ok {
		return false
	}
	return e.failed.Load()
}

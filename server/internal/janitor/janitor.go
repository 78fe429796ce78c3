// Package janitor runs the periodic cleanup of the session cache and marks
// every evicted session expired in the persistent store.
//
// Stale evictions cascade too: a session whose cache entry outlives the
// cache TTL is marked expired even when its course window is still open, and
// needs a fresh scan to come back. Store updates that fail are retried on
// every following tick until they succeed or the record is gone.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qrrelay/qrrelay/server/internal/cache"
	"github.com/qrrelay/qrrelay/server/internal/notify"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// Store is the part of session.Store the janitor writes to.
type Store interface {
	SetExpired(ctx context.Context, key string, expired bool) error
}

// Metrics receives sweep outcomes.
type Metrics interface {
	Swept()
	CascadeFailed()
}

// Notifier receives expiry events.
type Notifier interface {
	Notify(ev notify.Event)
}

// Policy is the timing the janitor sweeps with.
type Policy struct {
	CacheTTL     time.Duration
	CourseTTL    time.Duration
	Interval     time.Duration
	StoreTimeout time.Duration
}

// Janitor sweeps a cache on a fixed interval.
type Janitor struct {
	cache    *cache.Cache
	store    Store
	metrics  Metrics
	notifier Notifier

	policy atomic.Pointer[Policy]
	reload chan struct{}

	mu      sync.Mutex
	pending map[string]cache.Reason // guarded by mu; evicted keys whose store update failed
}

// New creates a Janitor. m and n may be nil.
func New(c *cache.Cache, st Store, p Policy, m Metrics, n Notifier) *Janitor {
	j := &Janitor{
		cache:    c,
		store:    st,
		metrics:  m,
		notifier: n,
		reload:   make(chan struct{}, 1),
		pending:  make(map[string]cache.Reason),
	}
	j.policy.Store(&p)
	return j
}

// Policy returns the active policy.
func (j *Janitor) Policy() Policy { return *j.policy.Load() }

// SetPolicy replaces the active policy. A running loop picks up a new
// interval before its next tick.
func (j *Janitor) SetPolicy(p Policy) {
	old := j.policy.Swap(&p)
	if old.Interval == p.Interval {
		return
	}
	select {
	case j.reload <- struct{}{}:
	default:
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.Policy().Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.reload:
			interval := j.Policy().Interval
			ticker.Reset(interval)
			slog.Info("janitor: sweep interval changed", "interval", interval)
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

// Tick performs one sweep and then marks each evicted key expired in the
// store, together with keys whose update failed on an earlier tick. Store
// failures are logged and kept for the next tick; a key the store no longer
// has is dropped. It returns this sweep's evictions and the number of store
// updates that failed.
func (j *Janitor) Tick(ctx context.Context) ([]cache.Eviction, int) {
	p := j.Policy()
	evicted := j.cache.Sweep(p.CacheTTL, p.CourseTTL)
	if j.metrics != nil {
		j.metrics.Swept()
	}

	j.mu.Lock()
	for _, ev := range evicted {
		j.pending[ev.Key] = ev.Reason
	}
	keys := make([]string, 0, len(j.pending))
	for k := range j.pending {
		keys = append(keys, k)
	}
	j.mu.Unlock()
	sort.Strings(keys)

	failed := 0
	for _, key := range keys {
		j.mu.Lock()
		reason, ok := j.pending[key]
		j.mu.Unlock()
		if !ok {
			continue // rescanned since the sweep
		}

		err := j.expire(ctx, key, p.StoreTimeout)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			failed++
			if j.metrics != nil {
				j.metrics.CascadeFailed()
			}
			slog.Warn("janitor: mark expired failed, will retry", "key", key, "reason", reason, "err", err)
			continue
		}

		j.mu.Lock()
		delete(j.pending, key)
		j.mu.Unlock()
		if err != nil {
			slog.Debug("janitor: evicted session no longer stored", "key", key)
			continue
		}
		if reason != cache.ReasonStale && j.notifier != nil {
			j.notifier.Notify(notify.Event{
				Type:   notify.EventExpired,
				Key:    key,
				Reason: string(reason),
			})
		}
	}

	if len(evicted) > 0 || failed > 0 {
		slog.Info("janitor: sweep complete", "evicted", len(evicted), "failed", failed, "pending", j.Pending())
	} else {
		slog.Debug("janitor: sweep complete", "evicted", 0)
	}
	return evicted, failed
}

// Pending returns the number of keys waiting for a retried store update.
func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Forget drops key from the retry set. A fresh scan calls it so a stale
// retry cannot expire the new session.
func (j *Janitor) Forget(key string) {
	j.mu.Lock()
	delete(j.pending, key)
	j.mu.Unlock()
}

func (j *Janitor) expire(ctx context.Context, key string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return j.store.SetExpired(ctx, key, true)
}

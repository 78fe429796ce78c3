package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// Reason names the signal that evicted an entry.
type Reason string

const (
	ReasonStale   Reason = "stale"
	ReasonExpired Reason = "expired"
	ReasonAged    Reason = "aged"
)

// Metrics receives cache events. A nil Metrics passed to New is replaced
// with NoopMetrics.
type Metrics interface {
	Hit()
	Miss()
	Evicted(reason string)
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

func (NoopMetrics) Hit()           {}
func (NoopMetrics) Miss()          {}
func (NoopMetrics) Evicted(string) {}

// Entry is a cached record together with the time it was cached.
type Entry struct {
	Record   session.Record
	CachedAt time.Time
}

// Eviction reports one key removed by Sweep.
type Eviction struct {
	Key    string
	Reason Reason
}

// Cache is a thread-safe map from session key to cached record.
type Cache struct {
	mu        sync.Mutex
	data      map[string]*Entry
	lastSweep time.Time

	norm    timegrid.Normalizer
	metrics Metrics
	now     func() time.Time // injectable for deterministic tests
}

// New creates an empty Cache. norm reads the observed time of cached records
// when judging course age.
func New(norm timegrid.Normalizer, m Metrics) *Cache {
	if m == nil {
		m = NoopMetrics{}
	}
	return &Cache{
		data:    make(map[string]*Entry),
		norm:    norm,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock replaces the cache's time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Insert stores or replaces the entry for rec.Key and resets its cache time.
func (c *Cache) Insert(rec session.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[rec.Key] = &Entry{Record: rec, CachedAt: c.now()}
}

// Get returns the cached record for key. It does not refresh the entry.
func (c *Cache) Get(key string) (session.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		c.metrics.Miss()
		return session.Record{}, false
	}
	c.metrics.Hit()
	return e.Record, true
}

// Remove evicts key and returns the entry it held.
func (c *Cache) Remove(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return Entry{}, false
	}
	delete(c.data, key)
	return *e, true
}

// Sweep evicts every entry that is stale (cached longer than cacheTTL),
// flagged expired, or whose observed scan is more than courseTTL old, in
// whole minutes. It returns the evictions sorted by key.
func (c *Cache) Sweep(cacheTTL, courseTTL time.Duration) []Eviction {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lastSweep = now
	courseMinutes := int64(courseTTL / time.Minute)

	var out []Eviction
	for key, e := range c.data {
		reason, evict := c.judge(e, now, cacheTTL, courseMinutes)
		if !evict {
			continue
		}
		delete(c.data, key)
		c.metrics.Evicted(string(reason))
		out = append(out, Eviction{Key: key, Reason: reason})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// judge must be called with c.mu held.
func (c *Cache) judge(e *Entry, now time.Time, cacheTTL time.Duration, courseMinutes int64) (Reason, bool) {
	if e.Record.IsExpired {
		return ReasonExpired, true
	}
	if e.Record.ObservedTime != "" {
		observed, err := c.norm.Parse(e.Record.ObservedTime)
		if err != nil {
			slog.Debug("cache: cannot judge course age", "key", e.Record.Key, "err", err)
		} else if timegrid.ElapsedMinutes(observed, now) > courseMinutes {
			return ReasonAged, true
		}
	}
	if now.Sub(e.CachedAt) > cacheTTL {
		return ReasonStale, true
	}
	return "", false
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// LastSweep returns the time of the most recent Sweep, or zero.
func (c *Cache) LastSweep() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSweep
}

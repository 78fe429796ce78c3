package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	scans   []ScanEvent
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Load returns a copy of the record for key. Returns nil, nil if not found.
func (s *MemoryStore) Load(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	cp := *rec
	return &cp, nil
}

// Upsert inserts or partially updates a record.
func (s *MemoryStore) Upsert(_ context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[u.Key]
	if !ok {
		rec = &Record{Key: u.Key, DisplayName: DefaultDisplayName(u.Key), CreatedAt: now}
		s.records[u.Key] = rec
	}
	if u.DisplayName != nil {
		rec.DisplayName = *u.DisplayName
	}
	if u.CodeID != nil {
		rec.CodeID = *u.CodeID
	}
	if u.SecondaryID != nil {
		rec.SecondaryID = *u.SecondaryID
	}
	if u.ObservedTime != nil {
		rec.ObservedTime = *u.ObservedTime
	}
	if u.HasScan() {
		rec.IsExpired = false
	}
	rec.UpdatedAt = now
	return nil
}

// SetExpired sets the expired flag on an existing record.
func (s *MemoryStore) SetExpired(_ context.Context, key string, expired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.IsExpired = expired
	rec.UpdatedAt = s.now()
	return nil
}

// List returns copies of all records, most recently updated first.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// LogScan appends ev to the in-memory audit trail.
func (s *MemoryStore) LogScan(_ context.Context, ev ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scans = append(s.scans, ev)
	return nil
}

// Scans returns a copy of the logged scan events in arrival order.
func (s *MemoryStore) Scans() []ScanEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScanEvent, len(s.scans))
	copy(out, s.scans)
	return out
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)

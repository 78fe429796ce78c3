// Package session defines the attendance session record, the contract of the
// persistent store that holds it, and an in-memory Store implementation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable matches every *StoreError.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// StoreError wraps an I/O failure from a persistent store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("session store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// Record is one recurring course session, keyed by its site id.
//
// CodeID, SecondaryID and ObservedTime are empty until the first scan, and
// are then always set together.
type Record struct {
	Key          string
	DisplayName  string
	CodeID       string
	SecondaryID  string
	ObservedTime string
	IsExpired    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Scanned reports whether all scan-derived fields are present.
func (r Record) Scanned() bool {
	return r.CodeID != "" && r.SecondaryID != "" && r.ObservedTime != ""
}

// Update is a partial upsert. Nil fields are left unchanged.
type Update struct {
	Key          string
	DisplayName  *string
	CodeID       *string
	SecondaryID  *string
	ObservedTime *string
}

// HasScan reports whether the update carries any scan-derived field.
// Such an update clears the expired flag.
func (u Update) HasScan() bool {
	return u.CodeID != nil || u.SecondaryID != nil || u.ObservedTime != nil
}

// DefaultDisplayName is the name given to a key inserted without one.
func DefaultDisplayName(key string) string { return "Course_" + key }

// ScanEvent is one accepted scan, kept as an append-only audit trail.
type ScanEvent struct {
	ID           string
	Key          string
	CodeID       string
	SecondaryID  string
	ObservedTime string
	Raw          string
	ScannedAt    time.Time
}

// Store is the persistent system of record for session records.
type Store interface {
	// Load returns the record for key. Returns nil, nil if none exists.
	Load(ctx context.Context, key string) (*Record, error)

	// Upsert inserts or partially updates the record for u.Key.
	Upsert(ctx context.Context, u Update) error

	// SetExpired sets the expired flag. Returns ErrNotFound if no record exists.
	SetExpired(ctx context.Context, key string, expired bool) error

	// List returns all records, most recently updated first.
	List(ctx context.Context) ([]*Record, error)

	// LogScan appends ev to the scan audit trail.
	LogScan(ctx context.Context, ev ScanEvent) error
}

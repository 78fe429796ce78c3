package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/cache"
	"github.com/qrrelay/qrrelay/server/internal/checkcode"
	"github.com/qrrelay/qrrelay/server/internal/notify"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// UnknownName is returned by DisplayName for keys with no record.
const UnknownName = "unknown"

// ErrInvalidName is returned by Rename for a blank name.
var ErrInvalidName = errors.New("display name must not be empty")

// Metrics receives scan and regeneration outcomes.
type Metrics interface {
	Scan(result string)
	Regeneration(result string)
}

// Notifier receives session events.
type Notifier interface {
	Notify(ev notify.Event)
}

// Policy is the part of the session configuration the service reads.
type Policy struct {
	CourseTTL    time.Duration
	StoreTimeout time.Duration
}

// Submission is the result of an accepted scan.
type Submission struct {
	Key  string
	Code checkcode.Code
}

// ActiveSession is a scanned, unexpired session still inside its course window.
type ActiveSession struct {
	session.Record
	MinutesRemaining int64
	observed         time.Time
}

// Service is safe for concurrent use.
type Service struct {
	store    session.Store
	cache    *cache.Cache
	regen    *checkcode.Regenerator
	metrics  Metrics
	notifier Notifier

	policy atomic.Pointer[Policy]
	now    func() time.Time
	onScan func(key string)
}

// New creates a Service. m and n may be nil.
func New(st session.Store, c *cache.Cache, regen *checkcode.Regenerator, p Policy, m Metrics, n Notifier) *Service {
	s := &Service{
		store:    st,
		cache:    c,
		regen:    regen,
		metrics:  m,
		notifier: n,
		now:      time.Now,
	}
	s.policy.Store(&p)
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return *s.policy.Load() }

// SetPolicy replaces the active policy.
func (s *Service) SetPolicy(p Policy) { s.policy.Store(&p) }

// Submit records a scanned raw code. It returns checkcode.ErrParse if raw is
// not a check-in code.
func (s *Service) Submit(ctx context.Context, raw string) (Submission, error) {
	code, ok := checkcode.Parse(raw)
	if !ok {
		slog.Debug("attendance: rejected scan", "len", len(raw))
		s.scan("rejected")
		return Submission{}, checkcode.ErrParse
	}

	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.store.Upsert(ctx, session.Update{
			Key:          code.Key,
			CodeID:       &code.ID,
			SecondaryID:  &code.SecondaryID,
			ObservedTime: &code.ObservedTime,
		})
	})
	if err != nil {
		s.scan("error")
		return Submission{}, fmt.Errorf("submit %s: %w", code.Key, err)
	}
	s.cache.Remove(code.Key)
	if s.onScan != nil {
		s.onScan(code.Key)
	}

	now := s.now()
	ev := session.ScanEvent{
		ID:           uuid.NewString(),
		Key:          code.Key,
		CodeID:       code.ID,
		SecondaryID:  code.SecondaryID,
		ObservedTime: code.ObservedTime,
		Raw:          strings.TrimSpace(raw),
		ScannedAt:    now,
	}
	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.store.LogScan(ctx, ev) }); err != nil {
		slog.Warn("attendance: scan log failed", "key", code.Key, "err", err)
	}
	if s.notifier != nil {
		s.notifier.Notify(notify.Event{Type: notify.EventScanned, Key: code.Key, At: now})
	}

	s.scan("accepted")
	slog.Info("attendance: scan accepted", "key", code.Key, "code_id", code.ID, "observed", code.ObservedTime)
	return Submission{Key: code.Key, Code: code}, nil
}

// OnScan registers fn to run after each accepted scan has been stored.
// Call it before the service is shared.
func (s *Service) OnScan(fn func(key string)) { s.onScan = fn }

// FetchRegenerated returns a code for key that is valid now.
//
// Errors: session.ErrNotFound when the key has no record,
// checkcode.ErrExpired when the record is flagged or past the course TTL,
// checkcode.ErrMissingData when it was never scanned,
// timegrid.ErrUnparseableTime when its stored time cannot be read, and
// session.ErrStoreUnavailable when the store fails.
func (s *Service) FetchRegenerated(ctx context.Context, key string) (string, error) {
	rec, ok := s.cache.Get(key)
	if !ok {
		loaded, err := s.load(ctx, key)
		if err != nil {
			s.regeneration("error")
			return "", fmt.Errorf("fetch %s: %w", key, err)
		}
		if loaded == nil {
			s.regeneration("not_found")
			return "", session.ErrNotFound
		}
		rec = *loaded
		s.cache.Insert(rec)
	}

	now := s.now()
	if _, aged := s.remaining(rec, now); aged {
		s.regeneration("expired")
		return "", checkcode.ErrExpired
	}

	code, err := s.regen.Regenerate(rec, now)
	switch {
	case err == nil:
		s.regeneration("ok")
	case errors.Is(err, checkcode.ErrExpired):
		s.regeneration("expired")
	case errors.Is(err, checkcode.ErrMissingData):
		s.regeneration("missing_data")
	case errors.Is(err, timegrid.ErrUnparseableTime):
		slog.Warn("attendance: stored time unreadable", "key", key, "observed", rec.ObservedTime)
		s.regeneration("bad_time")
	}
	return code, err
}

// ListActive returns the sessions that can still be regenerated, newest
// observation first.
func (s *Service) ListActive(ctx context.Context) ([]ActiveSession, error) {
	recs, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var out []ActiveSession
	for _, r := range recs {
		if r.IsExpired || !r.Scanned() {
			continue
		}
		observed, err := s.regen.Normalizer.Parse(r.ObservedTime)
		if err != nil {
			slog.Debug("attendance: skipping unreadable session", "key", r.Key, "err", err)
			continue
		}
		left, aged := s.remaining(*r, now)
		if aged {
			continue
		}
		out = append(out, ActiveSession{Record: *r, MinutesRemaining: left, observed: observed})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].observed.After(out[j].observed) })
	return out, nil
}

// ListAll returns every stored record, most recently updated first.
func (s *Service) ListAll(ctx context.Context) ([]*session.Record, error) {
	var recs []*session.Record
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		recs, err = s.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return recs, nil
}

// DisplayName returns the name stored for key, or UnknownName.
func (s *Service) DisplayName(ctx context.Context, key string) (string, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return "", fmt.Errorf("display name %s: %w", key, err)
	}
	if rec == nil {
		return UnknownName, nil
	}
	return rec.DisplayName, nil
}

// Rename sets the display name of key, creating the record if needed.
func (s *Service) Rename(ctx context.Context, key, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.store.Upsert(ctx, session.Update{Key: key, DisplayName: &name})
	})
	if err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	s.cache.Remove(key)
	return nil
}

// Expire marks key expired in the store and drops it from the cache.
func (s *Service) Expire(ctx context.Context, key string) error {
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.store.SetExpired(ctx, key, true)
	})
	if err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	s.cache.Remove(key)
	if s.notifier != nil {
		s.notifier.Notify(notify.Event{Type: notify.EventExpired, Key: key, Reason: "manual", At: s.now()})
	}
	slog.Info("attendance: session expired", "key", key)
	return nil
}

// remaining returns the whole minutes left in rec's course window and
// whether the window has passed. Records without a readable time are never
// aged out here.
func (s *Service) remaining(rec session.Record, now time.Time) (int64, bool) {
	if rec.ObservedTime == "" {
		return 0, false
	}
	observed, err := s.regen.Normalizer.Parse(rec.ObservedTime)
	if err != nil {
		return 0, false
	}
	limit := int64(s.Policy().CourseTTL / time.Minute)
	elapsed := timegrid.ElapsedMinutes(observed, now)
	if elapsed > limit {
		return 0, true
	}
	return max(0, limit-elapsed), false
}

func (s *Service) load(ctx context.Context, key string) (*session.Record, error) {
	var rec *session.Record
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Load(ctx, key)
		return err
	})
	return rec, err
}

func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.Policy().StoreTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) scan(result string) {
	if s.metrics != nil {
		s.metrics.Scan(result)
	}
}

func (s *Service) regeneration(result string) {
	if s.metrics != nil {
		s.metrics.Regeneration(result)
	}
}

package checkcode

import (
	"fmt"
	"time"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// DefaultPeriod is the verifier's grid period.
const DefaultPeriod = 5 * time.Second

// Regenerator mints codes whose createTime lies on the grid of the original
// observation and does not pass the current time.
type Regenerator struct {
	Normalizer timegrid.Normalizer
	Period     time.Duration
}

// NewRegenerator returns a Regenerator for the given zone normalizer and grid period.
func NewRegenerator(n timegrid.Normalizer, period time.Duration) *Regenerator {
	return &Regenerator{Normalizer: n, Period: period}
}

// Regenerate returns a raw code for rec valid at now. The id, siteId and
// classLessonId are reused from the stored scan.
func (g *Regenerator) Regenerate(rec session.Record, now time.Time) (string, error) {
	if rec.IsExpired {
		return "", ErrExpired
	}
	if !rec.Scanned() {
		return "", ErrMissingData
	}

	observed, err := g.Normalizer.Parse(rec.ObservedTime)
	if err != nil {
		return "", fmt.Errorf("session %s: %w", rec.Key, err)
	}

	at := timegrid.QuantizeForward(observed, now, g.Period)
	return Code{
		ID:           rec.CodeID,
		SecondaryID:  rec.SecondaryID,
		ObservedTime: g.Normalizer.Format(at),
		Key:          rec.Key,
	}.String(), nil
}

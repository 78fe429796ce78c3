package timegrid

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// DefaultOffset is the UTC offset assumed for timestamps that carry none.
const DefaultOffset = 8 * time.Hour

// Layout is the textual form written back into regenerated codes.
const Layout = "2006-01-02T15:04:05.000"

// ErrUnparseableTime matches every *UnparseableTimeError.
var ErrUnparseableTime = errors.New("unparseable time")

// UnparseableTimeError carries the text that matched no known layout.
type UnparseableTimeError struct {
	Text string
}

func (e *UnparseableTimeError) Error() string {
	return fmt.Sprintf("unparseable time %q", e.Text)
}

// Is reports whether target is ErrUnparseableTime.
func (e *UnparseableTimeError) Is(target error) bool { return target == ErrUnparseableTime }

// Layouts tried in order. Offset forms first so an explicit zone always wins.
var (
	offsetLayouts = []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.999999999-0700",
		"2006-01-02T15:04:05-0700",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
)

// Normalizer parses and formats timestamps against one fixed Location.
type Normalizer struct {
	Location *time.Location
}

// Default is the Normalizer for the fixed UTC+8 deployment zone.
var Default = New(DefaultOffset)

// New returns a Normalizer whose offset-less timestamps are read at the given
// offset east of UTC.
func New(offset time.Duration) Normalizer {
	return Normalizer{Location: FixedZone(offset)}
}

// FixedZone returns a named fixed zone for offset, e.g. "UTC+08:00".
func FixedZone(offset time.Duration) *time.Location {
	sign := '+'
	abs := offset
	if offset < 0 {
		sign = '-'
		abs = -offset
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, int(abs.Hours()), int(abs.Minutes())%60)
	return time.FixedZone(name, int(offset.Seconds()))
}

func (n Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.UTC
	}
	return n.Location
}

// Parse converts timestamp text into an instant. Percent-encoded text is
// decoded first; a '+' or ' ' between date and time stands in for 'T'.
func (n Normalizer) Parse(text string) (time.Time, error) {
	s := text
	if decoded, err := url.PathUnescape(text); err == nil {
		s = decoded
	}
	if len(s) > 10 && (s[10] == '+' || s[10] == ' ') {
		s = s[:10] + "T" + s[11:]
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, n.location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &UnparseableTimeError{Text: text}
}

// Format renders t in the normalizer's Location with millisecond precision.
func (n Normalizer) Format(t time.Time) string {
	return t.In(n.location()).Format(Layout)
}

// Parse uses the Default normalizer.
func Parse(text string) (time.Time, error) { return Default.Parse(text) }

// Format uses the Default normalizer.
func Format(t time.Time) string { return Default.Format(t) }

// ElapsedMinutes returns the whole minutes from "from" to "to", truncated
// toward zero. The result is negative when to is before from.
func ElapsedMinutes(from, to time.Time) int64 {
	return int64(to.Sub(from) / time.Minute)
}

// QuantizeForward returns base + n*period for the largest n >= 0 such that
// the result does not exceed now. If now is before base, or period is not
// positive, base is returned.
func QuantizeForward(base, now time.Time, period time.Duration) time.Time {
	if period <= 0 || now.Before(base) {
		return base
	}
	n := now.Sub(base) / period
	return base.Add(n * period)
}

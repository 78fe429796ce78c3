package api

import (
	"fmt"
	"time"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// SessionState summarises whether a session can currently be regenerated.
type SessionState string

const (
	StateActive       SessionState = "active"
	StateNeverScanned SessionState = "never_scanned"
	StateExpired      SessionState = "expired"
	StateAgedOut      SessionState = "aged_out"
	StateBadTime      SessionState = "bad_time"
)

// endingSoon is the remaining window below which an active session gets a warning.
const endingSoon = 5

// Hint is one human-readable note about a session, shown next to it in the
// session list.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is one of "ok", "info", "warning" or "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number tied to the hint, such as minutes left.
	Value *float64 `json:"value,omitempty"`
}

// classify derives the state of rec at now and the hints to show for it.
func classify(rec *session.Record, now time.Time, courseTTL time.Duration, norm timegrid.Normalizer) (SessionState, []Hint) {
	if !rec.Scanned() {
		return StateNeverScanned, []Hint{{
			Key:   "never_scanned",
			Level: "info",
			Title: "Waiting for first scan",
			Detail: "No check-in code has been scanned for this session yet. " +
				"Scan the code shown in class once and new codes can be generated from then on.",
		}}
	}

	if rec.IsExpired {
		return StateExpired, []Hint{{
			Key:    "expired",
			Level:  "warning",
			Title:  "Expired",
			Detail: "This session was marked expired. Scan a new code to reactivate it.",
		}}
	}

	observed, err := norm.Parse(rec.ObservedTime)
	if err != nil {
		return StateBadTime, []Hint{{
			Key:   "bad_time",
			Level: "critical",
			Title: "Unreadable scan time",
			Detail: fmt.Sprintf("The stored scan time %q is in no known format, so codes "+
				"cannot be regenerated. Scan the code again.", rec.ObservedTime),
		}}
	}

	limit := int64(courseTTL / time.Minute)
	elapsed := timegrid.ElapsedMinutes(observed, now)
	if elapsed > limit {
		v := float64(elapsed)
		return StateAgedOut, []Hint{{
			Key:   "aged_out",
			Level: "warning",
			Title: "Course window over",
			Detail: fmt.Sprintf("The last scan was %d minutes ago, past the %d minute course window. "+
				"The next cleanup will mark it expired.", elapsed, limit),
			Value: &v,
		}}
	}

	left := float64(limit - elapsed)
	if limit-elapsed <= endingSoon {
		return StateActive, []Hint{{
			Key:    "ending_soon",
			Level:  "warning",
			Title:  fmt.Sprintf("%d min left", limit-elapsed),
			Detail: "The course window closes soon. Codes stop being generated when it does.",
			Value:  &left,
		}}
	}
	return StateActive, []Hint{{
		Key:    "active",
		Level:  "ok",
		Title:  "Active",
		Detail: fmt.Sprintf("Codes can be generated for another %d minutes.", limit-elapsed),
		Value:  &left,
	}}
}

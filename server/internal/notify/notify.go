package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/qrrelay/qrrelay/server/internal/config"
)

// EventType names a session event.
type EventType string

const (
	EventScanned EventType = "scanned"
	EventExpired EventType = "expired"
)

// Event is one session event.
type Event struct {
	Type        EventType `json:"type"`
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name,omitempty"`
	// Reason is set on expired events: "aged", "expired" or "manual".
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Notifier fans events out to webhooks.
//
// Notifier is safe for concurrent use. A nil *Notifier discards events.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	wg       sync.WaitGroup
}

// New creates a Notifier from the server notify configuration.
// A Notifier with no webhooks is valid; Notify becomes a no-op.
func New(cfg config.NotifyConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}
	return &Notifier{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: timeout},
	}
}

// Notify schedules delivery of ev to every webhook and returns immediately.
func (n *Notifier) Notify(ev Event) {
	if n == nil || len(n.webhooks) == 0 {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(ev)
	}()
}

// Wait blocks until all scheduled deliveries have finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// deliver sends ev to all configured targets.
// Errors are logged but do not affect the caller.
func (n *Notifier) deliver(ev Event) {
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, ev)
		case "teams":
			err = n.sendTeams(url, ev)
		case "http":
			err = n.sendHTTP(url, ev)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed",
				"type", wh.Type,
				"event", ev.Type,
				"key", ev.Key,
				"err", err,
			)
		} else {
			slog.Debug("notify: webhook delivered",
				"type", wh.Type,
				"event", ev.Type,
				"key", ev.Key,
			)
		}
	}
}

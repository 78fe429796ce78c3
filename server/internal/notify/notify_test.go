package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qrrelay/qrrelay/server/internal/config"
)

type capture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(b))
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func newNotifier(t *testing.T, typ, url string) *Notifier {
	t.Helper()
	env := "TEST_NOTIFY_" + strings.ToUpper(typ)
	t.Setenv(env, url)
	return New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: typ, URLEnv: env}},
		Timeout:  time.Second,
	})
}

var at = time.Date(2025, 6, 4, 9, 52, 14, 0, time.UTC)

func TestNotify_HTTPPayload(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := newNotifier(t, "http", srv.URL)
	n.Notify(Event{Type: EventScanned, Key: "4021", DisplayName: "Physics", At: at})
	n.Wait()

	bodies := c.all()
	if len(bodies) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(bodies))
	}
	var got struct {
		Event Event `json:"event"`
	}
	if err := json.Unmarshal([]byte(bodies[0]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event.Type != EventScanned || got.Event.Key != "4021" || !got.Event.At.Equal(at) {
		t.Errorf("event: got %+v", got.Event)
	}
}

func TestNotify_SlackText(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := newNotifier(t, "slack", srv.URL)
	n.Notify(Event{Type: EventExpired, Key: "4021", Reason: "aged", At: at})
	n.Wait()

	bodies := c.all()
	if len(bodies) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(bodies))
	}
	if !strings.Contains(bodies[0], "[EXPIRED]") || !strings.Contains(bodies[0], "aged") {
		t.Errorf("slack body: %s", bodies[0])
	}
}

func TestNotify_TeamsCard(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := newNotifier(t, "teams", srv.URL)
	n.Notify(Event{Type: EventScanned, Key: "4021", At: at})
	n.Wait()

	bodies := c.all()
	if len(bodies) != 1 || !strings.Contains(bodies[0], "MessageCard") {
		t.Fatalf("teams body: %v", bodies)
	}
}

func TestNotify_FailureDoesNotPanic(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	n := newNotifier(t, "http", srv.URL)
	n.Notify(Event{Type: EventScanned, Key: "1"})
	n.Wait()

	if len(c.all()) != 1 {
		t.Errorf("expected one attempt")
	}
}

func TestNotify_UnresolvedURLSkipped(t *testing.T) {
	n := New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_NOTIFY_UNSET_VAR"}},
	})
	n.Notify(Event{Type: EventScanned, Key: "1"})
	n.Wait()
}

func TestNotify_NilAndEmpty(t *testing.T) {
	var n *Notifier
	n.Notify(Event{Type: EventScanned})
	n.Wait()

	empty := New(config.NotifyConfig{})
	empty.Notify(Event{Type: EventScanned})
	empty.Wait()
}

func TestSummary(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Type: EventScanned, Key: "7", DisplayName: "Chem", At: at}, "Chem (site 7) checked in at 09:52:14"},
		{Event{Type: EventExpired, Key: "7"}, "7 (site 7) expired"},
		{Event{Type: EventExpired, Key: "7", Reason: "manual"}, "7 (site 7) expired: manual"},
	}
	for _, tc := range cases {
		if got := summary(tc.ev); got != tc.want {
			t.Errorf("summary(%+v): got %q, want %q", tc.ev, got, tc.want)
		}
	}
}

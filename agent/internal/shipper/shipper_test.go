package shipper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qrrelay/qrrelay/agent/internal/config"
)

const sampleCode = "checkwork|id=77&siteId=4021&createTime=2025-06-04T09:52:14.040&classLessonId=9001"

// --- Test helpers ---

// mockServer answers POST /api/v1/scans. Scans containing "bad" get 400;
// the first failFirst requests get 503 and the next garbleFirst accepted
// scans get a 200 with a body that is not JSON.
type mockServer struct {
	mu          sync.Mutex
	received    []string
	headers     []string
	failFirst   int
	garbleFirst int
	calls       int
}

func (m *mockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if r.URL.Path != "/api/v1/scans" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if m.calls <= m.failFirst {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	m.headers = append(m.headers, r.Header.Get("x-api-key"))

	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(req.Content, "bad") {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Result{Status: "error", Message: "not a check-in code"}) //nolint:errcheck
		return
	}
	m.received = append(m.received, req.Content)
	if m.garbleFirst > 0 {
		m.garbleFirst--
		w.Write([]byte("<html>upstream proxy</html>")) //nolint:errcheck
		return
	}
	json.NewEncoder(w).Encode(Result{Status: "success", Key: "4021", Redirect: "/gencode/classid/4021"}) //nolint:errcheck
}

func (m *mockServer) scans() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}

func startTestServer(t *testing.T, m *mockServer) string {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv.URL
}

func agentCfg(url string) config.AgentConfig {
	return config.AgentConfig{
		ServerURL:   url,
		BufferSize:  10,
		SendTimeout: time.Second,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- Tests ---

func TestShipper_DeliversScan(t *testing.T) {
	m := &mockServer{}
	s := New(agentCfg(startTestServer(t, m)))

	var got []Result
	var mu sync.Mutex
	s.OnAccepted(func(r Result) { mu.Lock(); got = append(got, r); mu.Unlock() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(sampleCode)
	waitFor(t, func() bool { return len(m.scans()) > 0 })

	if scans := m.scans(); len(scans) != 1 || scans[0] != sampleCode {
		t.Fatalf("server received %v", scans)
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) > 0 })
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Key != "4021" || got[0].Redirect != "/gencode/classid/4021" {
		t.Errorf("accepted: got %+v", got)
	}
}

func TestShipper_PreservesOrder(t *testing.T) {
	m := &mockServer{}
	s := New(agentCfg(startTestServer(t, m)))

	for i := 0; i < 5; i++ {
		s.Ship(strings.Replace(sampleCode, "id=77", "id=7"+string(rune('0'+i)), 1))
	}
	s.Close()

	done := make(chan struct{})
	go func() { s.Run(context.Background()); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after draining a closed buffer")
	}

	scans := m.scans()
	if len(scans) != 5 {
		t.Fatalf("server received %d scans, want 5", len(scans))
	}
	for i, sc := range scans {
		if !strings.Contains(sc, "id=7"+string(rune('0'+i))+"&") {
			t.Errorf("scan %d out of order: %s", i, sc)
		}
	}
}

func TestShipper_RejectedScanDiscarded(t *testing.T) {
	m := &mockServer{}
	s := New(agentCfg(startTestServer(t, m)))
	s.Ship("bad input")
	s.Ship(sampleCode)
	s.Close()

	s.Run(context.Background())

	if scans := m.scans(); len(scans) != 1 || scans[0] != sampleCode {
		t.Errorf("server received %v, want only the valid scan", scans)
	}
}

func TestShipper_RetriesTransientFailure(t *testing.T) {
	m := &mockServer{failFirst: 2}
	s := New(agentCfg(startTestServer(t, m)))
	s.backoff = 5 * time.Millisecond
	s.Ship(sampleCode)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Run(ctx)

	if scans := m.scans(); len(scans) != 1 {
		t.Errorf("server received %v, want one scan after retries", scans)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls != 3 {
		t.Errorf("calls: got %d, want 3", m.calls)
	}
}

func TestShipper_RetriesUndecodableSuccess(t *testing.T) {
	m := &mockServer{garbleFirst: 1}
	s := New(agentCfg(startTestServer(t, m)))
	s.backoff = 5 * time.Millisecond

	var got []Result
	s.OnAccepted(func(r Result) { got = append(got, r) })
	s.Ship(sampleCode)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Run(ctx)

	if scans := m.scans(); len(scans) != 2 {
		t.Errorf("server received %v, want the scan twice", scans)
	}
	if len(got) != 1 || got[0].Key != "4021" || got[0].Redirect != "/gencode/classid/4021" {
		t.Errorf("accepted: got %+v, want one decoded result", got)
	}
}

func TestShipper_SendsAPIKey(t *testing.T) {
	t.Setenv("TEST_SHIPPER_KEY", "sekret")
	m := &mockServer{}
	cfg := agentCfg(startTestServer(t, m))
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", KeyEnv: "TEST_SHIPPER_KEY"}
	s := New(cfg)
	s.Ship(sampleCode)
	s.Close()
	s.Run(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.headers) != 1 || m.headers[0] != "sekret" {
		t.Errorf("x-api-key headers: got %v", m.headers)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	// BufferSize=3; Ship 5 items while the shipper is not running.
	s := New(config.AgentConfig{ServerURL: "http://unused", BufferSize: 3})
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		s.Ship(c)
	}
	s.Close()

	var got []string
	for c := range s.buf {
		got = append(got, c)
	}
	if strings.Join(got, "") != "cde" {
		t.Errorf("buffer: got %v, want c d e", got)
	}
}

func TestShipper_EndpointTrimsSlash(t *testing.T) {
	s := New(config.AgentConfig{ServerURL: "http://relay:8080/", BufferSize: 1})
	if s.endpoint != "http://relay:8080/api/v1/scans" {
		t.Errorf("endpoint: got %q", s.endpoint)
	}
}

func TestBackoff_ResetsAndCaps(t *testing.T) {
	b := newBackoff(backoffInitial)
	if first := b.next(); first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 50; i++ {
		// With jitter, max is backoffMax * 1.25.
		if d := b.next(); d > backoffMax*2 {
			t.Errorf("backoff[%d] = %v, exceeds 2×max", i, d)
		}
	}
	b.reset()
	if after := b.next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	// Nothing listens here, so the send keeps failing and Run sits in backoff.
	s := New(agentCfg("http://127.0.0.1:1"))
	s.Ship(sampleCode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

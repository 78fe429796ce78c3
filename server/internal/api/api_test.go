package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/api"
	"github.com/qrrelay/qrrelay/server/internal/attendance"
	"github.com/qrrelay/qrrelay/server/internal/cache"
	"github.com/qrrelay/qrrelay/server/internal/checkcode"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	h     http.Handler
	svc   *attendance.Service
	store *session.MemoryStore
	cache *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := session.NewMemoryStore()
	c := cache.New(timegrid.Default, nil)
	svc := attendance.New(st, c,
		checkcode.NewRegenerator(timegrid.Default, checkcode.DefaultPeriod),
		attendance.Policy{CourseTTL: 20 * time.Minute, StoreTimeout: time.Second},
		nil, nil)
	return &fixture{h: api.New(svc, c, timegrid.Default), svc: svc, store: st, cache: c}
}

// codeAt returns a raw check-in code for site observed at t.
func codeAt(site string, t time.Time) string {
	return checkcode.Code{ID: "77", SecondaryID: "9001", ObservedTime: timegrid.Format(t), Key: site}.String()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path, "")
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func scanBody(content string) string {
	b, _ := json.Marshal(api.ScanRequest{Content: content})
	return string(b)
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.Cached != 0 || resp.LastSweep != "" {
		t.Errorf("health: got %+v", resp)
	}

	f.cache.Insert(session.Record{Key: "1"})
	f.cache.Sweep(time.Hour, time.Hour)
	rr = get(t, f.h, "/api/v1/health")
	decode(t, rr, &resp)
	if resp.Cached != 1 || resp.LastSweep == "" {
		t.Errorf("health after sweep: got %+v", resp)
	}
}

// --- /api/v1/scans ----------------------------------------------------------

func TestSubmitScan_Success(t *testing.T) {
	f := newFixture(t)
	rr := do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("4021", time.Now())))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp api.ScanResponse
	decode(t, rr, &resp)
	if resp.Status != "success" || resp.Key != "4021" || resp.Redirect != "/gencode/classid/4021" {
		t.Errorf("response: got %+v", resp)
	}
	if rec, _ := f.store.Load(context.Background(), "4021"); rec == nil {
		t.Error("scan not stored")
	}
}

func TestSubmitScan_Rejected(t *testing.T) {
	f := newFixture(t)
	rr := do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody("https://example.com/not-a-code"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	var resp api.ScanResponse
	decode(t, rr, &resp)
	if resp.Status != "error" || resp.Message == "" || resp.Key != "" {
		t.Errorf("response: got %+v", resp)
	}
}

func TestSubmitScan_BadBody(t *testing.T) {
	f := newFixture(t)
	if rr := do(t, f.h, http.MethodPost, "/api/v1/scans", "{not json"); rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestSubmitScan_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	if rr := get(t, f.h, "/api/v1/scans"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/sessions/{key}/code --------------------------------------------

func TestRegenerate_OK(t *testing.T) {
	f := newFixture(t)
	observed := time.Now().Add(-time.Minute)
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("4021", observed)))

	rr := get(t, f.h, "/api/v1/sessions/4021/code")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp api.CodeResponse
	decode(t, rr, &resp)
	code, ok := checkcode.Parse(resp.Content)
	if !ok {
		t.Fatalf("content is not a check-in code: %q", resp.Content)
	}
	if code.Key != "4021" || code.ID != "77" || code.SecondaryID != "9001" {
		t.Errorf("identifiers changed: %+v", code)
	}
}

func TestRegenerate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// never scanned
	if err := f.svc.Rename(ctx, "500", "Biology"); err != nil {
		t.Fatal(err)
	}
	// expired
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("600", time.Now())))
	if err := f.svc.Expire(ctx, "600"); err != nil {
		t.Fatal(err)
	}
	// aged out
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("700", time.Now().Add(-time.Hour))))
	// unreadable time
	do(t, f.h, http.MethodPost, "/api/v1/scans",
		scanBody("checkwork|id=1&siteId=800&createTime=yesterday&classLessonId=2"))

	cases := []struct {
		key  string
		code int
		msg  string
	}{
		{"404", http.StatusNotFound, "scan required first"},
		{"500", http.StatusNotFound, "scan required first"},
		{"600", http.StatusBadRequest, "expired, re-scan"},
		{"700", http.StatusBadRequest, "expired, re-scan"},
		{"800", http.StatusBadRequest, "bad data"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			rr := get(t, f.h, "/api/v1/sessions/"+tc.key+"/code")
			if rr.Code != tc.code {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.code)
			}
			var resp map[string]string
			decode(t, rr, &resp)
			if resp["error"] != tc.msg {
				t.Errorf("error: got %q, want %q", resp["error"], tc.msg)
			}
		})
	}
}

// --- /api/v1/sessions/active and /api/v1/sessions ---------------------------

func TestListActive(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("older", now.Add(-10*time.Minute))))
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("newer", now.Add(-time.Minute))))
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("stale", now.Add(-time.Hour))))

	rr := get(t, f.h, "/api/v1/sessions/active")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var rows []api.ActiveSessionResponse
	decode(t, rr, &rows)
	if len(rows) != 2 || rows[0].Key != "newer" || rows[1].Key != "older" {
		t.Fatalf("rows: got %+v", rows)
	}
	if rows[0].MinutesRemaining < 18 || rows[0].MinutesRemaining > 19 {
		t.Errorf("minutes_remaining: got %d", rows[0].MinutesRemaining)
	}
}

func TestListActive_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/sessions/active")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body: got %q, want []", rr.Body.String())
	}
}

func TestListSessions_WithStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("live", time.Now())))
	f.svc.Rename(ctx, "blank", "Never scanned")

	rr := get(t, f.h, "/api/v1/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var rows []api.SessionResponse
	decode(t, rr, &rows)

	status := map[string]api.SessionState{}
	for _, r := range rows {
		status[r.Key] = r.Status
		if len(r.Hints) == 0 {
			t.Errorf("%s: no hints", r.Key)
		}
	}
	if status["live"] != api.StateActive || status["blank"] != api.StateNeverScanned {
		t.Errorf("status: got %v", status)
	}
}

// --- /api/v1/sessions/{key}/name and /expire ---------------------------------

func TestName_GetAndPut(t *testing.T) {
	f := newFixture(t)

	var resp api.NameResponse
	decode(t, get(t, f.h, "/api/v1/sessions/4021/name"), &resp)
	if resp.DisplayName != "unknown" {
		t.Errorf("missing name: got %q, want unknown", resp.DisplayName)
	}

	rr := do(t, f.h, http.MethodPut, "/api/v1/sessions/4021/name", `{"display_name":"Physics"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status: got %d, want 200", rr.Code)
	}
	decode(t, get(t, f.h, "/api/v1/sessions/4021/name"), &resp)
	if resp.DisplayName != "Physics" {
		t.Errorf("name: got %q, want Physics", resp.DisplayName)
	}

	if rr := do(t, f.h, http.MethodPut, "/api/v1/sessions/4021/name", `{"display_name":"  "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("blank name status: got %d, want 400", rr.Code)
	}
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	do(t, f.h, http.MethodPost, "/api/v1/scans", scanBody(codeAt("4021", time.Now())))

	if rr := do(t, f.h, http.MethodPost, "/api/v1/sessions/4021/expire", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rr.Code)
	}
	rec, _ := f.store.Load(context.Background(), "4021")
	if !rec.IsExpired {
		t.Error("record not expired")
	}
	if rr := do(t, f.h, http.MethodPost, "/api/v1/sessions/nope/expire", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing key status: got %d, want 404", rr.Code)
	}
	if rr := get(t, f.h, "/api/v1/sessions/4021/expire"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status: got %d, want 405", rr.Code)
	}
}

func TestUnknownSubroute(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"/api/v1/sessions/4021", "/api/v1/sessions/4021/bogus", "/api/v1/sessions/4021/code/extra"} {
		if rr := get(t, f.h, p); rr.Code != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", p, rr.Code)
		}
	}
}

func TestContentTypeJSON(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"/api/v1/health", "/api/v1/sessions", "/api/v1/sessions/active"} {
		rr := get(t, f.h, p)
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type: got %q", p, ct)
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/attendance"
	"github.com/qrrelay/qrrelay/server/internal/checkcode"
	"github.com/qrrelay/qrrelay/server/internal/session"
)

// maxBodyBytes bounds request bodies; a check-in code is well under 1 KiB.
const maxBodyBytes = 64 << 10

// CacheStats reports the state of the session cache.
type CacheStats interface {
	Len() int
	LastSweep() time.Time
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	svc   *attendance.Service
	stats CacheStats
	norm  timegrid.Normalizer
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a Handler wired to the attendance service and registers all routes.
func New(svc *attendance.Service, stats CacheStats, norm timegrid.Normalizer) http.Handler {
	h := &Handler{svc: svc, stats: stats, norm: norm, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/scans", h.submitScan)
	h.mux.HandleFunc("/api/v1/sessions", h.listSessions)
	h.mux.HandleFunc("/api/v1/sessions/", h.session) // subtree: active, {key}/code|name|expire

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{Status: "ok", Cached: h.stats.Len()}
	if last := h.stats.LastSweep(); !last.IsZero() {
		resp.LastSweep = last.UTC().Format(time.RFC3339)
	}
	jsonResp(w, http.StatusOK, resp)
}

// submitScan handles POST /api/v1/scans.
func (h *Handler) submitScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonResp(w, http.StatusBadRequest, ScanResponse{Status: "error", Message: "request body must be JSON with a content field"})
		return
	}

	sub, err := h.svc.Submit(r.Context(), req.Content)
	if err != nil {
		code, msg := statusFor(err)
		if code >= 500 {
			slog.Error("api: submit failed", "err", err)
		}
		jsonResp(w, code, ScanResponse{Status: "error", Message: msg})
		return
	}

	jsonResp(w, http.StatusOK, ScanResponse{
		Status:   "success",
		Key:      sub.Key,
		Redirect: "/gencode/classid/" + sub.Key,
	})
}

// listSessions returns GET /api/v1/sessions: every stored session.
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recs, err := h.svc.ListAll(r.Context())
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}

	now := h.now()
	courseTTL := h.svc.Policy().CourseTTL
	out := make([]SessionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSessionResponse(rec, now, courseTTL, h.norm))
	}
	jsonResp(w, http.StatusOK, out)
}

// session dispatches the /api/v1/sessions/ subtree.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/"), "/")
	if rest == "" {
		h.listSessions(w, r)
		return
	}
	if rest == "active" {
		h.listActive(w, r)
		return
	}

	key, action, ok := strings.Cut(rest, "/")
	if !ok || key == "" || strings.Contains(action, "/") {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "code":
		h.regenerate(w, r, key)
	case "name":
		h.name(w, r, key)
	case "expire":
		h.expire(w, r, key)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// listActive returns GET /api/v1/sessions/active.
func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	active, err := h.svc.ListActive(r.Context())
	if err != nil {
		h.fail(w, "list active", err)
		return
	}
	jsonResp(w, http.StatusOK, ToActiveResponses(active))
}

// regenerate returns GET /api/v1/sessions/{key}/code.
func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	content, err := h.svc.FetchRegenerated(r.Context(), key)
	if err != nil {
		h.fail(w, "regenerate", err)
		return
	}
	jsonResp(w, http.StatusOK, CodeResponse{Content: content})
}

// name handles GET and PUT /api/v1/sessions/{key}/name.
func (h *Handler) name(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		name, err := h.svc.DisplayName(r.Context(), key)
		if err != nil {
			h.fail(w, "display name", err)
			return
		}
		jsonResp(w, http.StatusOK, NameResponse{Key: key, DisplayName: name})

	case http.MethodPut:
		var req RenameRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			jsonErr(w, http.StatusBadRequest, "request body must be JSON with a display_name field")
			return
		}
		if err := h.svc.Rename(r.Context(), key, req.DisplayName); err != nil {
			h.fail(w, "rename", err)
			return
		}
		jsonResp(w, http.StatusOK, NameResponse{Key: key, DisplayName: strings.TrimSpace(req.DisplayName)})

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// expire handles POST /api/v1/sessions/{key}/expire.
func (h *Handler) expire(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.svc.Expire(r.Context(), key); err != nil {
		h.fail(w, "expire", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ----------------------------------------------------------------

// fail writes the error response for err, logging server-side failures.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code, msg := statusFor(err)
	if code >= 500 {
		slog.Error("api: "+op+" failed", "err", err)
	}
	jsonErr(w, code, msg)
}

// statusFor maps a service error to an HTTP status and a user-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, checkcode.ErrParse):
		return http.StatusBadRequest, "not a check-in code"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, checkcode.ErrMissingData):
		return http.StatusNotFound, "scan required first"
	case errors.Is(err, checkcode.ErrExpired):
		return http.StatusBadRequest, "expired, re-scan"
	case errors.Is(err, timegrid.ErrUnparseableTime):
		return http.StatusBadRequest, "bad data"
	case errors.Is(err, attendance.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// ToActiveResponses maps service rows to their JSON representation. The
// WebSocket feed sends the same shape.
func ToActiveResponses(active []attendance.ActiveSession) []ActiveSessionResponse {
	out := make([]ActiveSessionResponse, 0, len(active))
	for _, a := range active {
		out = append(out, ActiveSessionResponse{
			Key:              a.Key,
			DisplayName:      a.DisplayName,
			CodeID:           a.CodeID,
			SecondaryID:      a.SecondaryID,
			ObservedTime:     a.ObservedTime,
			IsExpired:        a.IsExpired,
			MinutesRemaining: a.MinutesRemaining,
		})
	}
	return out
}

func toSessionResponse(rec *session.Record, now time.Time, courseTTL time.Duration, norm timegrid.Normalizer) SessionResponse {
	state, hints := classify(rec, now, courseTTL, norm)
	return SessionResponse{
		Key:          rec.Key,
		DisplayName:  rec.DisplayName,
		CodeID:       rec.CodeID,
		SecondaryID:  rec.SecondaryID,
		ObservedTime: rec.ObservedTime,
		IsExpired:    rec.IsExpired,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
		Status:       state,
		Hints:        hints,
	}
}

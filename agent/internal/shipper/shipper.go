package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/qrrelay/qrrelay/agent/internal/config"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	scansPath         = "/api/v1/scans"
)

// Result is the server's answer to an accepted scan.
type Result struct {
	Status   string `json:"status"`
	Key      string `json:"key"`
	Redirect string `json:"redirect"`
	Message  string `json:"message"`
}

// rejectedError is a 4xx answer; retrying the same scan cannot succeed.
type rejectedError struct {
	status  int
	message string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("server rejected scan: HTTP %d: %s", e.status, e.message)
}

// Shipper buffers raw scans and submits them to the server.
type Shipper struct {
	cfg      config.AgentConfig
	endpoint string
	buf      chan string
	client   *http.Client
	backoff  time.Duration // initial retry delay, injectable for tests
	accepted func(Result)  // optional callback, set with OnAccepted
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.ServerURL, "/") + scansPath,
		buf:      make(chan string, cfg.BufferSize),
		client:   &http.Client{Timeout: cfg.SendTimeout},
		backoff:  backoffInitial,
	}
}

// OnAccepted registers fn to be called for every scan the server accepts.
// It must be called before Run.
func (s *Shipper) OnAccepted(fn func(Result)) { s.accepted = fn }

// Ship enqueues raw. If the buffer is full the oldest entry is evicted to
// make room. Ship must not be called after Close.
func (s *Shipper) Ship(raw string) {
	select {
	case s.buf <- raw:
	default:
		select {
		case <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest scan", "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- raw
	}
}

// Close tells Run to return once the buffer is drained.
func (s *Shipper) Close() { close(s.buf) }

// Run submits buffered scans in order until ctx is cancelled or the buffer
// is closed and empty. A scan that fails transiently is retried with backoff
// before the next one is taken.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff(s.backoff)

	for {
		var raw string
		select {
		case <-ctx.Done():
			return
		case r, ok := <-s.buf:
			if !ok {
				return
			}
			raw = r
		}

		for {
			res, err := s.send(ctx, raw)
			if err == nil {
				bo.reset()
				slog.Info("shipper: scan delivered", "key", res.Key, "redirect", res.Redirect)
				if s.accepted != nil {
					s.accepted(res)
				}
				break
			}

			var rej *rejectedError
			if errors.As(err, &rej) {
				slog.Error("shipper: scan rejected, discarding", "status", rej.status, "message", rej.message)
				break
			}

			if ctx.Err() != nil {
				return
			}
			wait := bo.next()
			slog.Warn("shipper: send failed, will retry",
				"endpoint", s.endpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// send posts one scan and decodes the answer.
func (s *Shipper) send(ctx context.Context, raw string) (Result, error) {
	body, _ := json.Marshal(map[string]string{"content": raw})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ServerAuth.Mode == "apikey" {
		req.Header.Set(s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var res Result
	decodeErr := json.Unmarshal(data, &res)

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := res.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return Result{}, &rejectedError{status: resp.StatusCode, message: msg}
	case decodeErr != nil:
		// Submitting again is safe: the server upserts by key.
		return Result{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	return res, nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

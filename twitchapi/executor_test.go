package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingSleep captures backoff delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleep) got() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestExecutor(hc *http.Client) (*Executor, *recordingSleep) {
	rs := &recordingSleep{}
	e := NewExecutor(hc)
	e.Sleep = rs.sleep
	return e, rs
}

func mustGet(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	for i, w := range want {
		if got := Backoff(DefaultBaseDelay, i); got != w {
			t.Errorf("Backoff(200ms, %d) = %v, want %v", i, got, w)
		}
	}
}

func TestExecutor_ExhaustsAttemptsWithLastDetail(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"error":"attempt %d"}`, n)
	}))
	defer server.Close()

	e, rs := newTestExecutor(server.Client())
	_, err := e.Do(context.Background(), "test", mustGet(t, server.URL))

	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("Do() error = %v, want *RequestError", err)
	}
	if IsCancelled(err) {
		t.Errorf("terminal failure reported as cancelled")
	}
	if rerr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", rerr.StatusCode)
	}
	if rerr.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", rerr.Attempts)
	}
	if !strings.Contains(rerr.Body, "attempt 5") {
		t.Errorf("Body = %q, want detail of 5th attempt", rerr.Body)
	}
	if got := hits.Load(); got != 5 {
		t.Errorf("server hits = %d, want 5", got)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	got := rs.got()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !e.KeepAlive() {
		t.Errorf("HTTP errors must not disable keep-alive")
	}
}

func TestExecutor_SucceedsBeforeLastAttempt(t *testing.T) {
	tests := []struct {
		name      string
		failFirst int32
		failBody  string
		failCode  int
		wantDelay int
	}{
		{name: "first try", failFirst: 0, wantDelay: 0},
		{name: "after two server errors", failFirst: 2, failCode: http.StatusInternalServerError, failBody: `{}`, wantDelay: 2},
		{name: "after malformed json", failFirst: 1, failCode: http.StatusOK, failBody: `<html>`, wantDelay: 1},
		{name: "on the fifth attempt", failFirst: 4, failCode: http.StatusServiceUnavailable, failBody: `{}`, wantDelay: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) <= tt.failFirst {
					w.WriteHeader(tt.failCode)
					_, _ = w.Write([]byte(tt.failBody))
					return
				}
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer server.Close()

			e, rs := newTestExecutor(server.Client())
			body, err := e.Do(context.Background(), "test", mustGet(t, server.URL))
			if err != nil {
				t.Fatalf("Do() unexpected error = %v", err)
			}
			if string(body) != `{"ok":true}` {
				t.Errorf("body = %s", body)
			}
			if got := hits.Load(); got != tt.failFirst+1 {
				t.Errorf("server hits = %d, want %d", got, tt.failFirst+1)
			}
			if got := len(rs.got()); got != tt.wantDelay {
				t.Errorf("backoff waits = %d, want %d", got, tt.wantDelay)
			}
		})
	}
}

func TestExecutor_CancelDuringBackoff(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := NewExecutor(server.Client())
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := e.Do(ctx, "test", mustGet(t, server.URL))
	if !IsCancelled(err) {
		t.Fatalf("Do() error = %v, want cancelled", err)
	}
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("error %v should match ErrCancelled and context.Canceled", err)
	}
	var rerr *RequestError
	if errors.As(err, &rerr) {
		t.Errorf("cancellation surfaced as terminal failure: %v", rerr)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestExecutor_CancelInFlight(t *testing.T) {
	started := make(chan struct{})
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	e, rs := newTestExecutor(server.Client())
	_, err := e.Do(ctx, "test", mustGet(t, server.URL))
	if !IsCancelled(err) {
		t.Fatalf("Do() error = %v, want cancelled", err)
	}
	if got := len(rs.got()); got != 0 {
		t.Errorf("backoff waits after cancel = %d, want 0", got)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestExecutor_AlreadyCancelled(t *testing.T) {
	called := false
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return jsonResponse(http.StatusOK, `{}`), nil
	})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestExecutor(hc)
	_, err := e.Do(ctx, "test", mustGet(t, "http://example.invalid/"))
	if !IsCancelled(err) {
		t.Fatalf("Do() error = %v, want cancelled", err)
	}
	if called {
		t.Error("request issued after cancellation")
	}
}

func TestExecutor_NetworkFailureDisablesKeepAlive(t *testing.T) {
	var closes []bool
	calls := 0
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		closes = append(closes, r.Close)
		if calls == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	})}

	e, _ := newTestExecutor(hc)
	if !e.KeepAlive() {
		t.Fatal("new executor should request keep-alive")
	}
	if _, err := e.Do(context.Background(), "test", mustGet(t, "http://example.invalid/")); err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
	if e.KeepAlive() {
		t.Error("keep-alive still enabled after network failure")
	}
	if len(closes) != 2 || closes[0] || !closes[1] {
		t.Errorf("request Close flags = %v, want [false true]", closes)
	}

	// Later requests on the same executor keep the hint off.
	if _, err := e.Do(context.Background(), "test", mustGet(t, "http://example.invalid/")); err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
	if !closes[2] {
		t.Error("keep-alive re-enabled on a later request")
	}
}

func TestExecutor_NetworkFailureExhaustion(t *testing.T) {
	netErr := errors.New("dial tcp: connection refused")
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, netErr
	})}
	e, _ := newTestExecutor(hc)
	_, err := e.Do(context.Background(), "test", mustGet(t, "http://example.invalid/"))
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("Do() error = %v, want *RequestError", err)
	}
	if rerr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for network failure", rerr.StatusCode)
	}
	if !errors.Is(err, netErr) {
		t.Errorf("error %v does not wrap the network error", err)
	}
}

func TestExecutor_ReplaysRequestBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"q":1}`))
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newTestExecutor(server.Client())
	if _, err := e.Do(context.Background(), "test", req); err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != `{"q":1}` || bodies[1] != `{"q":1}` {
		t.Errorf("bodies = %q, want the same payload twice", bodies)
	}
}

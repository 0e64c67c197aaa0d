// Package twitchapi talks to the Twitch comment GraphQL endpoint and the REST
// lookups used for video metadata and badge icons. Every request goes through
// an Executor, which retries transient failures with exponential backoff and
// stops immediately when the caller's context is cancelled.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/onnwee/rechat/backend/telemetry"
)

const (
	// DefaultMaxAttempts is the number of tries per logical request.
	DefaultMaxAttempts = 5
	// DefaultBaseDelay is the wait after the first failed attempt; it doubles per attempt.
	DefaultBaseDelay = 200 * time.Millisecond

	maxErrorBody = 4096
)

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor issues one logical HTTP request with bounded retry. Attempts of one
// call are strictly sequential. An Executor belongs to a single replay session;
// once it has seen a transport failure it stops asking for connection reuse
// for the rest of its life.
type Executor struct {
	HTTPClient  *http.Client
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       SleepFunc

	noKeepAlive atomic.Bool
}

// NewExecutor returns an executor with the default retry policy.
func NewExecutor(hc *http.Client) *Executor {
	return &Executor{HTTPClient: hc, MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Backoff returns the wait after failed attempt number attempt (0-based).
func Backoff(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// KeepAlive reports whether requests still ask for connection reuse.
func (e *Executor) KeepAlive() bool { return !e.noKeepAlive.Load() }

func (e *Executor) http() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

func (e *Executor) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (e *Executor) baseDelay() time.Duration {
	if e.BaseDelay > 0 {
		return e.BaseDelay
	}
	return DefaultBaseDelay
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do performs req and returns the response body, which is guaranteed to be
// valid JSON. endpoint labels logs and metrics. Requests with a body must set
// GetBody so that retries can resend it (http.NewRequest does this for the
// common reader types).
//
// The error is ErrCancelled (also matching the context error) when ctx ends,
// or a *RequestError once all attempts have failed.
func (e *Executor) Do(ctx context.Context, endpoint string, req *http.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "twitchapi"), slog.String("endpoint", endpoint))
	attempts := e.maxAttempts()
	var last *RequestError
	for attempt := 0; attempt < attempts; attempt++ {
		body, rerr := e.attempt(ctx, endpoint, req)
		if rerr == nil {
			return body, nil
		}
		if err := ctx.Err(); err != nil {
			telemetry.ObserveAttempt(endpoint, telemetry.OutcomeCancelled, 0)
			return nil, Cancelled(err)
		}
		rerr.Endpoint = endpoint
		rerr.Attempts = attempt + 1
		last = rerr
		if rerr.kind == failureNetwork && e.noKeepAlive.CompareAndSwap(false, true) {
			logger.Info("network failure observed; disabling keep-alive for this session")
			telemetry.ObserveKeepAliveDisabled()
		}
		if attempt == attempts-1 {
			break
		}
		delay := Backoff(e.baseDelay(), attempt)
		logger.Debug("request attempt failed; retrying", slog.Int("attempt", attempt+1), slog.Duration("backoff", delay), slog.Any("err", rerr))
		telemetry.ObserveRetry(endpoint)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, Cancelled(err)
		}
	}
	logger.Warn("request failed after retries", slog.Int("attempts", last.Attempts), slog.Any("err", last))
	return nil, last
}

// attempt runs a single try. The returned *RequestError has Endpoint and
// Attempts unset.
func (e *Executor) attempt(ctx context.Context, endpoint string, req *http.Request) ([]byte, *RequestError) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		b, err := req.GetBody()
		if err != nil {
			return nil, &RequestError{Err: fmt.Errorf("rewind request body: %w", err), kind: failureNetwork}
		}
		r.Body = b
	}
	r.Close = e.noKeepAlive.Load()

	start := time.Now()
	resp, err := e.http().Do(r)
	if err != nil {
		telemetry.ObserveAttempt(endpoint, telemetry.OutcomeNetwork, time.Since(start))
		return nil, &RequestError{Err: err, kind: failureNetwork}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.ObserveAttempt(endpoint, telemetry.OutcomeNetwork, time.Since(start))
		return nil, &RequestError{Err: fmt.Errorf("read body: %w", err), kind: failureNetwork}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.ObserveAttempt(endpoint, telemetry.OutcomeHTTPError, time.Since(start))
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), maxErrorBody),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
			kind:       failureHTTP,
		}
	}
	if !json.Valid(body) {
		telemetry.ObserveAttempt(endpoint, telemetry.OutcomeDecode, time.Since(start))
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), maxErrorBody),
			Err:        errors.New("response body is not valid JSON"),
			kind:       failureDecode,
		}
	}
	telemetry.ObserveAttempt(endpoint, telemetry.OutcomeSuccess, time.Since(start))
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

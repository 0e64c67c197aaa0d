// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes recorded on APIAttempts.
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeNetwork   = "network_error"
	OutcomeDecode    = "decode_error"
	OutcomeCancelled = "cancelled"
)

var (
	once sync.Once

	// Counters
	APIAttempts        *prometheus.CounterVec
	APIRetries         *prometheus.CounterVec
	KeepAliveDisabled  prometheus.Counter
	CommentPages       prometheus.Counter
	CommentsReceived   prometheus.Counter
	ReplaySessions     *prometheus.CounterVec

	// Histograms (seconds)
	APIRequestDuration *prometheus.HistogramVec

	// Gauges
	ActiveSessions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		APIAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rechat_api_attempts_total", Help: "Upstream API request attempts by endpoint and outcome"}, []string{"endpoint", "outcome"})
		APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rechat_api_retries_total", Help: "Upstream API attempts that were followed by a backoff and retry"}, []string{"endpoint"})
		KeepAliveDisabled = promauto.NewCounter(prometheus.CounterOpts{Name: "rechat_api_keepalive_disabled_total", Help: "Executors that stopped requesting connection reuse after a network failure"})
		CommentPages = promauto.NewCounter(prometheus.CounterOpts{Name: "rechat_comment_pages_total", Help: "Non-empty comment pages fetched"})
		CommentsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "rechat_comments_received_total", Help: "Comments received from the comment API"})
		ReplaySessions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rechat_sessions_total", Help: "Replay sessions finished by outcome"}, []string{"outcome"})
		APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "rechat_api_request_duration_seconds", Help: "Duration of single upstream attempts", Buckets: prometheus.DefBuckets}, []string{"endpoint"})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "rechat_active_sessions", Help: "Replay sessions currently running"})
	})
}

// ObserveAttempt records one upstream attempt. Safe to call before Init.
func ObserveAttempt(endpoint, outcome string, d time.Duration) {
	if APIAttempts != nil {
		APIAttempts.WithLabelValues(endpoint, outcome).Inc()
	}
	if APIRequestDuration != nil {
		APIRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// ObserveRetry records that an attempt on endpoint will be retried.
func ObserveRetry(endpoint string) {
	if APIRetries != nil {
		APIRetries.WithLabelValues(endpoint).Inc()
	}
}

// ObserveKeepAliveDisabled records an executor dropping its keep-alive hint.
func ObserveKeepAliveDisabled() {
	if KeepAliveDisabled != nil {
		KeepAliveDisabled.Inc()
	}
}

// ObservePage records a fetched comment page of n comments.
func ObservePage(n int) {
	if CommentPages != nil {
		CommentPages.Inc()
	}
	if CommentsReceived != nil {
		CommentsReceived.Add(float64(n))
	}
}

// SessionStarted bumps the active session gauge.
func SessionStarted() {
	if ActiveSessions != nil {
		ActiveSessions.Inc()
	}
}

// SessionFinished lowers the active session gauge and counts the outcome.
func SessionFinished(outcome string) {
	if ActiveSessions != nil {
		ActiveSessions.Dec()
	}
	if ReplaySessions != nil {
		ReplaySessions.WithLabelValues(outcome).Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}
var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context { return context.WithValue(ctx, corrKey, id) }

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok { return s }
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" { return slog.Default().With(slog.String("corr", id)) }
	return slog.Default()
}

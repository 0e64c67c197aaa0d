// Package server exposes the HTTP API: health, readiness, metrics, and the
// chat replay endpoints used by the frontend. It includes permissive CORS for
// development, per-IP rate limiting on replay endpoints, and injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/rechat/backend/config"
	"github.com/onnwee/rechat/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes. db may be nil when
// persistence is disabled. The provided context bounds the rate limiter
// cleanup goroutine.
func NewMux(ctx context.Context, db *sql.DB, cfg *config.Config) http.Handler {
	return newMux(ctx, NewHandlers(db, cfg))
}

func newMux(ctx context.Context, handlers *Handlers) http.Handler {
	corsCfg := loadCORSConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	limited := func(fn http.HandlerFunc) http.Handler { return rateLimitMiddleware(fn, rateLimiter) }

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)

	// Replay endpoints fan out into many upstream requests and are rate limited.
	mux.Handle("GET /videos/{id}/chat", limited(handlers.HandleChat))
	mux.Handle("GET /videos/{id}/chat/stream", limited(handlers.HandleChatStream))
	mux.Handle("GET /videos/{id}/badges", limited(handlers.HandleBadges))
	mux.HandleFunc("GET /videos/{id}/chat/stored", handlers.HandleStoredChat)

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server on cfg.HTTPAddr and shuts down gracefully on
// context cancellation. There is no write timeout: replay streams stay open
// until the whole comment history has been sent.
func Start(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewMux(ctx, db, cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

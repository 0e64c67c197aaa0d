package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/onnwee/rechat/backend/chat"
	"github.com/onnwee/rechat/backend/config"
	"github.com/onnwee/rechat/backend/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db  *sql.DB // nil when persistence is disabled
	cfg *config.Config

	// newAPI returns the upstream client for one session. Every session gets
	// its own so executors are never shared.
	newAPI func() chat.API
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{
		db:     db,
		cfg:    cfg,
		newAPI: func() chat.API { return cfg.NewTwitchClient() },
	}
}

// streamerFilter reports whether replays for r keep only streamer-relevant
// messages. ?all=1 disables the filter for this request.
func (h *Handlers) streamerFilter(r *http.Request) bool {
	filter := h.cfg.FilterStreamers
	if v := r.URL.Query().Get("all"); v != "" {
		if all, err := strconv.ParseBool(v); err == nil {
			filter = !all
		}
	}
	return filter
}

// sessionOptions returns the options shared by every replay session started
// for r.
func (h *Handlers) sessionOptions(r *http.Request) []chat.Option {
	opts := []chat.Option{chat.WithStreamerFilter(h.streamerFilter(r))}
	if h.cfg.PageRateLimit > 0 {
		lim := rate.NewLimiter(rate.Limit(h.cfg.PageRateLimit), 1)
		opts = append(opts, chat.WithPagerOptions(chat.WithRateLimit(lim)))
	}
	return opts
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= http.StatusInternalServerError {
		telemetry.LoggerWithCorr(r.Context()).Warn("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", msg),
			slog.String("component", "http"))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

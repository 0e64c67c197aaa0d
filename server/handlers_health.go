package server

import (
	"net/http"

	"github.com/onnwee/rechat/backend/telemetry"
)

type readinessCheck struct {
	name string
	fn   func() error
}

// HandleHealthz responds to liveness probe requests. The process is alive as
// long as it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. When persistence is
// enabled the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	var checks []readinessCheck
	if h.db != nil {
		checks = append(checks, readinessCheck{"database", func() error { return h.db.PingContext(r.Context()) }})
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ready",
		"persistence": enabledString(h.db != nil),
		"tracing":     enabledString(telemetry.IsTracingEnabled()),
	})
}

func enabledString(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// Command backend is the main entrypoint for the rechat API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations when DB_DSN is set, so replays
//     are mirrored and served from /videos/{id}/chat/stored.
//   - Exposes the HTTP server with the replay endpoints, /healthz, /readyz
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
//
// With -migrate-down it rolls back the most recent migration and exits
// instead of serving.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/rechat/backend/config"
	"github.com/onnwee/rechat/backend/db"
	"github.com/onnwee/rechat/backend/server"
	"github.com/onnwee/rechat/backend/telemetry"
)

func main() {
	migrateDown := flag.Bool("migrate-down", false, "Roll back the most recent database migration and exit")
	flag.Parse()

	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	slog.SetDefault(newLogger(os.Stdout))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it exports only when OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdown, err := telemetry.InitTracing("rechat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	if cfg.PersistenceEnabled() {
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if *migrateDown {
			if err := db.MigrateDown(database); err != nil {
				slog.Error("failed to roll back migration", slog.Any("err", err), slog.String("component", "db_migrate"))
				os.Exit(1)
			}
			return
		}
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err), slog.String("component", "db_migrate"))
			os.Exit(1)
		}
	} else {
		if *migrateDown {
			slog.Error("-migrate-down requires DB_DSN")
			os.Exit(2)
		}
		slog.Info("persistence disabled (DB_DSN not set)")
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof(envOr("PPROF_ADDR", "localhost:6060"))
	}

	if err := server.Start(ctx, database, cfg); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down")
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func newLogger(w *os.File) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(w, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	logger.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
	return logger
}

func startPprof(addr string) {
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

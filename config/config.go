// Package config loads environment variables and provides a typed Config used across the service.
// It applies defaults that point at the public Twitch endpoints so the binary can run locally
// with no setup at all. Persistence is optional and enabled by DB_DSN.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/rechat/backend/twitchapi"
)

type Config struct {
	// Upstream
	GQLURL            string
	ClientID          string
	CommentsQueryHash string
	VideoAPIURL       string
	BadgesURL         string

	// Request execution
	MaxAttempts   int
	RetryBase     time.Duration
	APITimeout    time.Duration
	PageRateLimit float64 // pages per second, 0 = unlimited

	// Replay
	FilterStreamers bool

	// Database (empty disables persistence)
	DBDsn string

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. Malformed numeric,
// duration or boolean values are reported as errors rather than ignored.
func Load() (*Config, error) {
	cfg := &Config{
		GQLURL:            envString("TWITCH_GQL_URL", twitchapi.DefaultGQLURL),
		ClientID:          envString("TWITCH_CLIENT_ID", twitchapi.DefaultClientID),
		CommentsQueryHash: envString("TWITCH_GQL_HASH", twitchapi.CommentsQueryHash),
		VideoAPIURL:       envString("VIDEO_API_URL", twitchapi.DefaultVideoAPIURL),
		BadgesURL:         envString("BADGES_API_URL", twitchapi.DefaultBadgesURL),
		DBDsn:             strings.TrimSpace(os.Getenv("DB_DSN")),
		HTTPAddr:          envString("HTTP_ADDR", ":8080"),
	}

	var err error
	if cfg.MaxAttempts, err = envInt("API_MAX_ATTEMPTS", twitchapi.DefaultMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("invalid API_MAX_ATTEMPTS %d: must be at least 1", cfg.MaxAttempts)
	}
	if cfg.RetryBase, err = envDuration("API_RETRY_BASE", twitchapi.DefaultBaseDelay); err != nil {
		return nil, err
	}
	if cfg.APITimeout, err = envDuration("API_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PageRateLimit, err = envFloat("PAGE_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.PageRateLimit < 0 {
		return nil, fmt.Errorf("invalid PAGE_RATE_LIMIT %v: must not be negative", cfg.PageRateLimit)
	}
	if cfg.FilterStreamers, err = envBool("REPLAY_FILTER_STREAMERS", true); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PersistenceEnabled reports whether replays should be stored in Postgres.
func (c *Config) PersistenceEnabled() bool { return c.DBDsn != "" }

// NewTwitchClient builds a client with a fresh executor. Each replay session
// gets its own client so keep-alive state is never shared between sessions.
func (c *Config) NewTwitchClient() *twitchapi.Client {
	exec := twitchapi.NewExecutor(&http.Client{
		Timeout:   c.APITimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	exec.MaxAttempts = c.MaxAttempts
	exec.BaseDelay = c.RetryBase
	client := twitchapi.NewClient(exec)
	client.GQLURL = c.GQLURL
	client.ClientID = c.ClientID
	client.CommentsQueryHash = c.CommentsQueryHash
	client.VideoAPIURL = c.VideoAPIURL
	client.BadgesURL = c.BadgesURL
	return client
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, v)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/onnwee/rechat/backend/twitchapi"
)

var configEnv = []string{
	"TWITCH_GQL_URL", "TWITCH_CLIENT_ID", "TWITCH_GQL_HASH", "VIDEO_API_URL", "BADGES_API_URL",
	"API_MAX_ATTEMPTS", "API_RETRY_BASE", "API_TIMEOUT", "PAGE_RATE_LIMIT",
	"REPLAY_FILTER_STREAMERS", "DB_DSN", "HTTP_ADDR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GQLURL != twitchapi.DefaultGQLURL {
		t.Errorf("GQLURL = %q", cfg.GQLURL)
	}
	if cfg.ClientID != twitchapi.DefaultClientID {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if cfg.MaxAttempts != 5 || cfg.RetryBase != 200*time.Millisecond {
		t.Errorf("retry defaults = %d/%v, want 5/200ms", cfg.MaxAttempts, cfg.RetryBase)
	}
	if cfg.APITimeout != 30*time.Second {
		t.Errorf("APITimeout = %v", cfg.APITimeout)
	}
	if cfg.PageRateLimit != 0 {
		t.Errorf("PageRateLimit = %v, want unlimited", cfg.PageRateLimit)
	}
	if !cfg.FilterStreamers {
		t.Error("FilterStreamers should default to true")
	}
	if cfg.PersistenceEnabled() {
		t.Error("persistence should be disabled without DB_DSN")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_GQL_URL", "http://localhost:9000/gql")
	t.Setenv("API_MAX_ATTEMPTS", "3")
	t.Setenv("API_RETRY_BASE", "50ms")
	t.Setenv("PAGE_RATE_LIMIT", "2.5")
	t.Setenv("REPLAY_FILTER_STREAMERS", "false")
	t.Setenv("DB_DSN", "postgres://rechat@localhost/rechat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GQLURL != "http://localhost:9000/gql" || cfg.MaxAttempts != 3 || cfg.RetryBase != 50*time.Millisecond {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.PageRateLimit != 2.5 || cfg.FilterStreamers {
		t.Errorf("PageRateLimit/FilterStreamers = %v/%v", cfg.PageRateLimit, cfg.FilterStreamers)
	}
	if !cfg.PersistenceEnabled() {
		t.Error("persistence should be enabled with DB_DSN")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"API_MAX_ATTEMPTS", "five"},
		{"API_MAX_ATTEMPTS", "0"},
		{"API_RETRY_BASE", "soon"},
		{"API_TIMEOUT", "-1s"},
		{"PAGE_RATE_LIMIT", "-1"},
		{"REPLAY_FILTER_STREAMERS", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q should name %s", err, tt.key)
			}
		})
	}
}

func TestNewTwitchClient(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_MAX_ATTEMPTS", "2")
	t.Setenv("BADGES_API_URL", "http://badges.local/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	a, b := cfg.NewTwitchClient(), cfg.NewTwitchClient()
	if a.Executor == b.Executor {
		t.Error("each client should get its own executor")
	}
	if a.Executor.MaxAttempts != 2 || a.BadgesURL != "http://badges.local/" {
		t.Errorf("client not configured: attempts=%d badges=%q", a.Executor.MaxAttempts, a.BadgesURL)
	}
	if a.Executor.HTTPClient == nil || a.Executor.HTTPClient.Timeout != cfg.APITimeout {
		t.Error("executor should use the configured timeout")
	}
}

// Command replay loads the chat replay of one video and prints every kept
// entry as a JSON line on stdout. Progress and failures go to stderr.
//
// Usage:
//
//	replay -video 123456789 [-all]
//
// Flags:
//
//	-video: id of the video to replay (required)
//	-all:   keep every message instead of only streamer-relevant ones
//
// Configuration comes from the same environment variables as the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/onnwee/rechat/backend/chat"
	"github.com/onnwee/rechat/backend/config"
	"github.com/onnwee/rechat/backend/twitchapi"
)

func main() {
	videoID := flag.String("video", "", "Video id to replay")
	all := flag.Bool("all", false, "Keep every message, not only streamer-relevant ones")
	flag.Parse()

	_ = godotenv.Load("backend/.env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *videoID == "" {
		fmt.Fprintln(os.Stderr, "Error: -video is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cfg.NewTwitchClient(), *videoID, !*all, os.Stdout); err != nil {
		if twitchapi.IsCancelled(err) || ctx.Err() != nil {
			slog.Info("replay interrupted")
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// run replays videoID through api and writes kept entries to out.
func run(ctx context.Context, cfg *config.Config, api chat.API, videoID string, filter bool, out io.Writer) error {
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	logger := slog.With(slog.String("video_id", videoID))

	opts := []chat.Option{
		chat.WithStreamerFilter(filter),
		chat.OnMetadata(func(_ context.Context, meta chat.VideoMetadata) {
			attrs := []any{slog.String("channel_id", meta.ChannelID)}
			if meta.DurationSeconds != nil {
				attrs = append(attrs, slog.Int("duration_seconds", *meta.DurationSeconds))
			}
			logger.Info("video metadata loaded", attrs...)
		}),
		chat.OnBatch(func(_ context.Context, batch []chat.Entry, p chat.Progress) {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range batch {
				if err := enc.Encode(e); err != nil {
					logger.Error("failed to write entry", slog.Any("err", err))
					return
				}
			}
			logger.Info("progress",
				slog.Int("received", p.Received),
				slog.Int("kept", p.Kept),
				slog.String("percent", fmt.Sprintf("%.1f", p.Percent())))
		}),
	}
	if cfg.PageRateLimit > 0 {
		opts = append(opts, chat.WithPagerOptions(chat.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.PageRateLimit), 1))))
	}

	s := chat.NewSession(api, videoID, opts...)
	err := s.Run(ctx)
	p := s.Progress()
	logger.Info("replay finished",
		slog.Bool("complete", p.Done),
		slog.Int("received", p.Received),
		slog.Int("kept", p.Kept),
		slog.Int("errors", len(s.Errors())))
	if p.Done {
		// Metadata failures are already logged; only a broken comment walk fails the run.
		return nil
	}
	// err is the first failure of either sequence, which may predate an interrupt.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return twitchapi.Cancelled(ctxErr)
	}
	return err
}

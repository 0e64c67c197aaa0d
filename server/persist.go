package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/onnwee/rechat/backend/chat"
	"github.com/onnwee/rechat/backend/db"
	"github.com/onnwee/rechat/backend/telemetry"
	"github.com/onnwee/rechat/backend/twitchapi"
)

// replayRecorder mirrors a running session into Postgres. Storage failures are
// logged and never affect the replay served to the client. filtered is the
// session's streamer filter mode; a run in the other mode replaces the
// stored entries instead of mixing with them.
type replayRecorder struct {
	database *sql.DB
	videoID  string
	filtered bool
	logger   *slog.Logger
}

func newReplayRecorder(ctx context.Context, database *sql.DB, videoID string, filtered bool) *replayRecorder {
	return &replayRecorder{
		database: database,
		videoID:  videoID,
		filtered: filtered,
		logger: telemetry.LoggerWithCorr(ctx).With(
			slog.String("component", "replay_store"),
			slog.String("video_id", videoID)),
	}
}

// begin marks the stored replay as in progress.
func (rr *replayRecorder) begin(ctx context.Context) {
	if err := db.UpsertReplay(ctx, rr.database, db.Replay{VideoID: rr.videoID, Filtered: rr.filtered}); err != nil {
		rr.warn(ctx, "failed to start stored replay", err)
	}
}

func (rr *replayRecorder) options() []chat.Option {
	return []chat.Option{
		chat.OnMetadata(rr.saveMetadata),
		chat.OnBatch(rr.saveBatch),
	}
}

func (rr *replayRecorder) saveMetadata(ctx context.Context, meta chat.VideoMetadata) {
	err := db.UpsertReplay(ctx, rr.database, db.Replay{
		VideoID:         rr.videoID,
		ChannelID:       meta.ChannelID,
		DurationSeconds: meta.DurationSeconds,
		Filtered:        rr.filtered,
	})
	if err != nil {
		rr.warn(ctx, "failed to store replay metadata", err)
	}
}

func (rr *replayRecorder) saveBatch(ctx context.Context, batch []chat.Entry, _ chat.Progress) {
	rows := make([]db.EntryRow, 0, len(batch))
	for _, e := range batch {
		payload, err := json.Marshal(e)
		if err != nil {
			rr.warn(ctx, "failed to encode entry", err)
			continue
		}
		rows = append(rows, db.EntryRow{CommentID: e.ID, Offset: e.Timestamp, Payload: payload})
	}
	if err := db.SaveBatch(ctx, rr.database, rr.videoID, rows); err != nil {
		rr.warn(ctx, "failed to store entry batch", err)
	}
}

// finish stores the final state even when the request context has ended, so
// an interrupted replay is kept as incomplete.
func (rr *replayRecorder) finish(ctx context.Context, s *chat.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := db.MarkReplayComplete(ctx, rr.database, rr.videoID, s.Progress().Done, s.Errors()); err != nil {
		rr.warn(ctx, "failed to finish stored replay", err)
	}
}

func (rr *replayRecorder) warn(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil || twitchapi.IsCancelled(err) {
		rr.logger.Debug(msg, slog.Any("err", err))
		return
	}
	rr.logger.Warn(msg, slog.Any("err", err))
}

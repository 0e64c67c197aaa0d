// Package db provides the Postgres connection helper, schema migration, and
// the data access helpers used to persist replays.
//
// Entries are stored as opaque JSON payloads keyed by comment id, so this
// package does not depend on the chat types.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// ErrReplayNotFound is returned by LoadReplay when no replay is stored for a video.
var ErrReplayNotFound = errors.New("replay not found")

// Replay is the stored summary of a video's chat replay.
type Replay struct {
	VideoID         string
	ChannelID       string
	DurationSeconds *int
	// Filtered is true when only streamer-relevant entries were kept.
	Filtered        bool
	Complete        bool
	Errors          []string
	UpdatedAt       time.Time
}

// EntryRow is one stored chat entry.
type EntryRow struct {
	CommentID string
	Offset    int
	Payload   json.RawMessage
}

// Connect opens a Postgres connection using dsn and verifies it is reachable.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dbx.SetMaxOpenConns(10)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return dbx, nil
}

// UpsertReplay records video metadata and marks the replay as in progress.
// When r.Filtered differs from the stored mode the stored entries are dropped,
// so one replay never mixes filtered and unfiltered entries.
func UpsertReplay(ctx context.Context, dbx *sql.DB, r Replay) error {
	var channel sql.NullString
	if r.ChannelID != "" {
		channel = sql.NullString{String: r.ChannelID, Valid: true}
	}
	var duration sql.NullInt64
	if r.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: int64(*r.DurationSeconds), Valid: true}
	}

	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replay tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored bool
	err = tx.QueryRowContext(ctx, `SELECT filtered FROM replays WHERE video_id = $1 FOR UPDATE`, r.VideoID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lock replay %s: %w", r.VideoID, err)
	case stored != r.Filtered:
		if _, err := tx.ExecContext(ctx, `DELETE FROM replay_entries WHERE video_id = $1`, r.VideoID); err != nil {
			return fmt.Errorf("reset replay entries %s: %w", r.VideoID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO replays(video_id, channel_id, duration_seconds, filtered, complete, errors, updated_at)
		VALUES($1, $2, $3, $4, FALSE, '[]'::jsonb, NOW())
		ON CONFLICT(video_id) DO UPDATE SET
			channel_id = COALESCE(EXCLUDED.channel_id, replays.channel_id),
			duration_seconds = COALESCE(EXCLUDED.duration_seconds, replays.duration_seconds),
			filtered = EXCLUDED.filtered,
			complete = FALSE,
			updated_at = NOW()`,
		r.VideoID, channel, duration, r.Filtered)
	if err != nil {
		return fmt.Errorf("upsert replay %s: %w", r.VideoID, err)
	}
	return tx.Commit()
}

// SaveBatch stores rows for videoID in one transaction. Rows already stored
// for the same comment keep their original position.
func SaveBatch(ctx context.Context, dbx *sql.DB, videoID string, rows []EntryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO replays(video_id) VALUES($1) ON CONFLICT(video_id) DO NOTHING`, videoID); err != nil {
		return fmt.Errorf("ensure replay %s: %w", videoID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO replay_entries(video_id, comment_id, content_offset, payload)
		VALUES($1, $2, $3, $4) ON CONFLICT(video_id, comment_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, videoID, r.CommentID, r.Offset, []byte(r.Payload)); err != nil {
			return fmt.Errorf("insert entry %s: %w", r.CommentID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE replays SET updated_at = NOW() WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("touch replay %s: %w", videoID, err)
	}
	return tx.Commit()
}

// MarkReplayComplete stores the final state of a replay. complete is false
// when the comment walk failed; errs holds the session's error messages.
func MarkReplayComplete(ctx context.Context, dbx *sql.DB, videoID string, complete bool, errs []string) error {
	if errs == nil {
		errs = []string{}
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode replay errors: %w", err)
	}
	res, err := dbx.ExecContext(ctx, `UPDATE replays SET complete = $2, errors = $3::jsonb, updated_at = NOW() WHERE video_id = $1`,
		videoID, complete, string(payload))
	if err != nil {
		return fmt.Errorf("mark replay %s: %w", videoID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark replay %s: %w", videoID, ErrReplayNotFound)
	}
	return nil
}

// LoadReplay returns the stored replay for videoID with its entries ordered by
// content offset and arrival.
func LoadReplay(ctx context.Context, dbx *sql.DB, videoID string) (*Replay, []EntryRow, error) {
	var (
		r        = Replay{VideoID: videoID}
		channel  sql.NullString
		duration sql.NullInt64
		errsRaw  []byte
	)
	err := dbx.QueryRowContext(ctx,
		`SELECT channel_id, duration_seconds, filtered, complete, errors, updated_at FROM replays WHERE video_id = $1`, videoID).
		Scan(&channel, &duration, &r.Filtered, &r.Complete, &errsRaw, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrReplayNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load replay %s: %w", videoID, err)
	}
	r.ChannelID = channel.String
	if duration.Valid {
		d := int(duration.Int64)
		r.DurationSeconds = &d
	}
	if len(errsRaw) > 0 {
		if err := json.Unmarshal(errsRaw, &r.Errors); err != nil {
			return nil, nil, fmt.Errorf("decode replay errors %s: %w", videoID, err)
		}
	}

	rows, err := dbx.QueryContext(ctx,
		`SELECT comment_id, content_offset, payload FROM replay_entries WHERE video_id = $1 ORDER BY content_offset, seq`, videoID)
	if err != nil {
		return nil, nil, fmt.Errorf("load replay entries %s: %w", videoID, err)
	}
	defer rows.Close()
	entries := []EntryRow{}
	for rows.Next() {
		var e EntryRow
		var payload []byte
		if err := rows.Scan(&e.CommentID, &e.Offset, &payload); err != nil {
			return nil, nil, fmt.Errorf("scan replay entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate replay entries: %w", err)
	}
	return &r, entries, nil
}

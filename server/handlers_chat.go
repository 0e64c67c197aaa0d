package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/onnwee/rechat/backend/chat"
	"github.com/onnwee/rechat/backend/db"
	"github.com/onnwee/rechat/backend/telemetry"
	"github.com/onnwee/rechat/backend/twitchapi"
)

type chatResponse struct {
	Video    *chat.VideoMetadata `json:"video"`
	Progress chat.Progress       `json:"progress"`
	Percent  float64             `json:"percent"`
	Entries  []chat.Entry        `json:"entries"`
	Errors   []string            `json:"errors"`
}

type batchEvent struct {
	Entries  []chat.Entry  `json:"entries"`
	Progress chat.Progress `json:"progress"`
	Percent  float64       `json:"percent"`
}

type doneEvent struct {
	Progress chat.Progress `json:"progress"`
	Percent  float64       `json:"percent"`
	Errors   []string      `json:"errors"`
}

type storedResponse struct {
	Video    chat.VideoMetadata `json:"video"`
	Filtered bool               `json:"filtered"`
	Complete bool               `json:"complete"`
	Errors   []string           `json:"errors"`
	Entries  []json.RawMessage  `json:"entries"`
}

// runSession runs a replay of videoID to completion, mirroring it into the
// database when persistence is enabled.
func (h *Handlers) runSession(ctx context.Context, r *http.Request, videoID string, extra ...chat.Option) (*chat.Session, error) {
	opts := h.sessionOptions(r)
	var rec *replayRecorder
	if h.db != nil {
		rec = newReplayRecorder(ctx, h.db, videoID, h.streamerFilter(r))
		rec.begin(ctx)
		opts = append(opts, rec.options()...)
	}
	opts = append(opts, extra...)

	s := chat.NewSession(h.newAPI(), videoID, opts...)
	err := s.Run(ctx)
	if rec != nil {
		rec.finish(ctx, s)
	}
	return s, err
}

// HandleChat loads the whole replay of a video and returns it as JSON.
// Partial failures are listed in errors next to whatever was loaded.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	ctx := r.Context()

	s, err := h.runSession(ctx, r, videoID)
	if twitchapi.IsCancelled(err) {
		return
	}
	entries := s.Entries()
	if s.VideoMissing() && len(entries) == 0 {
		writeJSONError(w, r, http.StatusNotFound, fmt.Sprintf("video %s: %v", videoID, twitchapi.ErrNotFound))
		return
	}
	p := s.Progress()
	writeJSON(w, http.StatusOK, chatResponse{
		Video:    s.Metadata(),
		Progress: p,
		Percent:  p.Percent(),
		Entries:  entries,
		Errors:   s.Errors(),
	})
}

// sseWriter serializes events from the session's two sequences onto one stream.
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

// send writes one event. An empty event name produces a plain data message.
// After the first write error every later send is dropped.
func (s *sseWriter) send(event string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: " + event + "\n")
	}
	buf.WriteString("data: ")
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	buf.WriteString("\n")
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		s.err = err
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleChatStream streams a replay as Server-Sent Events while it loads:
// a meta event with the video metadata, one data message per batch, an error
// event per failure, and a final done event. The stream ends early when the
// client disconnects, which cancels the session.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	videoID := r.PathValue("id")
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_stream"), slog.String("video_id", videoID))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{w: w, flusher: flusher}
	s, err := h.runSession(ctx, r, videoID,
		chat.OnMetadata(func(_ context.Context, meta chat.VideoMetadata) {
			if err := sw.send("meta", map[string]any{"video": meta}); err != nil {
				logger.Debug("failed to write SSE meta", slog.Any("err", err))
			}
		}),
		chat.OnBatch(func(_ context.Context, batch []chat.Entry, p chat.Progress) {
			if err := sw.send("", batchEvent{Entries: batch, Progress: p, Percent: p.Percent()}); err != nil {
				logger.Debug("failed to write SSE batch", slog.Any("err", err))
			}
		}),
		chat.WithErrorReporter(func(_ context.Context, err error) {
			logger.Error("replay failure", slog.Any("err", err))
			if werr := sw.send("error", map[string]string{"message": err.Error()}); werr != nil {
				logger.Debug("failed to write SSE error", slog.Any("err", werr))
			}
		}),
	)
	if twitchapi.IsCancelled(err) {
		return
	}
	p := s.Progress()
	if err := sw.send("done", doneEvent{Progress: p, Percent: p.Percent(), Errors: s.Errors()}); err != nil {
		logger.Debug("failed to write SSE done", slog.Any("err", err))
	}
}

// HandleBadges returns the merged global and channel badge catalog for the
// channel that owns a video.
func (h *Handlers) HandleBadges(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	ctx := r.Context()
	api := h.newAPI()

	v, err := api.GetVideo(ctx, videoID)
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}
	if v.UserID == "" {
		writeJSONError(w, r, http.StatusBadGateway, "video has no owning channel")
		return
	}
	catalog, err := api.GetChannelBadges(ctx, v.UserID)
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel_id": v.UserID, "badge_sets": catalog})
}

// HandleStoredChat serves a replay previously mirrored into Postgres.
func (h *Handlers) HandleStoredChat(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	videoID := r.PathValue("id")
	replay, rows, err := db.LoadReplay(r.Context(), h.db, videoID)
	if errors.Is(err, db.ErrReplayNotFound) {
		writeJSONError(w, r, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		entries[i] = row.Payload
	}
	errs := replay.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, storedResponse{
		Video: chat.VideoMetadata{
			ID:              replay.VideoID,
			DurationSeconds: replay.DurationSeconds,
			ChannelID:       replay.ChannelID,
		},
		Filtered: replay.Filtered,
		Complete: replay.Complete,
		Errors:   errs,
		Entries:  entries,
	})
}

func (h *Handlers) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case twitchapi.IsCancelled(err):
		return
	case errors.Is(err, twitchapi.ErrNotFound):
		writeJSONError(w, r, http.StatusNotFound, err.Error())
	default:
		writeJSONError(w, r, http.StatusBadGateway, err.Error())
	}
}

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/rechat/backend/color"
	"github.com/onnwee/rechat/backend/telemetry"
	"github.com/onnwee/rechat/backend/twitchapi"
)

const tracerName = "chat"

// Session outcomes recorded in rechat_replay_sessions_total.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// API is the subset of *twitchapi.Client a session needs.
type API interface {
	CommentFetcher
	GetVideo(ctx context.Context, id string) (*twitchapi.Video, error)
	GetChannelBadges(ctx context.Context, channelID string) (twitchapi.BadgeCatalog, error)
}

// VideoMetadata is what the video lookup contributes to a replay.
// DurationSeconds is nil when the upstream duration could not be parsed.
type VideoMetadata struct {
	ID              string `json:"id"`
	DurationSeconds *int   `json:"duration"`
	ChannelID       string `json:"channel_id"`
}

// Progress reports how far the comment walk has advanced.
type Progress struct {
	Received      int  `json:"received"`
	Kept          int  `json:"kept"`
	LastTimestamp int  `json:"last_timestamp"`
	Duration      *int `json:"duration"`
	Done          bool `json:"done"`
}

// Percent returns min(last/duration, 1) * 100, 100 once the walk is done,
// and 0 while the duration is unknown.
func (p Progress) Percent() float64 {
	if p.Done {
		return 100
	}
	if p.Duration == nil || *p.Duration <= 0 {
		return 0
	}
	r := float64(p.LastTimestamp) / float64(*p.Duration)
	if r > 1 {
		r = 1
	}
	return r * 100
}

// ErrorReporter receives terminal failures of a session. It is never called
// for cancellation.
type ErrorReporter func(ctx context.Context, err error)

// Option configures a Session.
type Option func(*Session)

// WithStreamerFilter keeps only entries accepted by IsStreamer when enabled.
func WithStreamerFilter(enabled bool) Option {
	return func(s *Session) {
		if enabled {
			s.keep = IsStreamer
		} else {
			s.keep = nil
		}
	}
}

// WithColorAdjusters overrides the light and dark theme adjusters.
func WithColorAdjusters(light, dark *color.Adjuster) Option {
	return func(s *Session) { s.light, s.dark = light, dark }
}

// OnBatch registers fn to receive each converted and filtered batch in order,
// together with the progress after that batch. Callbacks run on the comment
// sequence's goroutine in registration order.
func OnBatch(fn func(ctx context.Context, batch []Entry, p Progress)) Option {
	return func(s *Session) { s.onBatch = append(s.onBatch, fn) }
}

// OnMetadata registers fn to receive the video metadata once it is known.
func OnMetadata(fn func(ctx context.Context, meta VideoMetadata)) Option {
	return func(s *Session) { s.onMeta = append(s.onMeta, fn) }
}

// WithErrorReporter replaces the default slog reporter.
func WithErrorReporter(r ErrorReporter) Option {
	return func(s *Session) { s.report = r }
}

// WithPagerOptions forwards opts to the session's comment pager.
func WithPagerOptions(opts ...PagerOption) Option {
	return func(s *Session) { s.pagerOpts = append(s.pagerOpts, opts...) }
}

// Session loads one video's replay. Run drives it; the accessors may be
// called concurrently while it runs.
type Session struct {
	ID      string
	VideoID string

	api       API
	light     *color.Adjuster
	dark      *color.Adjuster
	keep      func(Entry) bool
	onBatch   []func(context.Context, []Entry, Progress)
	onMeta    []func(context.Context, VideoMetadata)
	report    ErrorReporter
	pagerOpts []PagerOption

	mu       sync.RWMutex
	meta     *VideoMetadata
	badges   twitchapi.BadgeCatalog
	entries  []Entry
	progress Progress
	errs     []string
	missing  bool
	done     bool
}

// NewSession returns a session for videoID. Streamer filtering is on by default.
func NewSession(api API, videoID string, opts ...Option) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		VideoID: videoID,
		api:     api,
		light:   color.Light,
		dark:    color.Dark,
		keep:    IsStreamer,
		badges:  twitchapi.BadgeCatalog{},
	}
	s.report = s.logError
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs the metadata/badge sequence and the comment walk concurrently.
// A failure in one does not stop the other. Run returns the first failure, or
// the cancellation error when ctx ended; the full list of failures is kept in
// Errors.
func (s *Session) Run(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "chat.Session.Run", telemetry.VideoIDAttr(s.VideoID))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_session"), slog.String("session", s.ID), slog.String("video_id", s.VideoID))

	telemetry.SessionStarted()
	logger.Info("replay session started")

	var g errgroup.Group
	g.Go(func() error { return s.loadMetadata(ctx) })
	g.Go(func() error { return s.loadComments(ctx) })
	err := g.Wait()

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	outcome := OutcomeCompleted
	switch {
	case err == nil:
		telemetry.SetSpanSuccess(span)
	case twitchapi.IsCancelled(err):
		outcome = OutcomeCancelled
		span.AddEvent("cancelled")
	default:
		outcome = OutcomeFailed
		telemetry.RecordError(span, err)
	}
	telemetry.SessionFinished(outcome)
	p := s.Progress()
	logger.Info("replay session finished", slog.String("outcome", outcome), slog.Int("received", p.Received), slog.Int("kept", p.Kept))
	return err
}

func (s *Session) loadMetadata(ctx context.Context) error {
	v, err := s.api.GetVideo(ctx, s.VideoID)
	if errors.Is(err, twitchapi.ErrNotFound) {
		// Unknown video: metadata and badges stay unset, the replay goes on.
		s.mu.Lock()
		s.missing = true
		s.record(err.Error())
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	meta := VideoMetadata{ID: v.ID, ChannelID: v.UserID}
	if secs, ok := twitchapi.ParseDuration(v.Duration); ok && v.Duration != "" {
		meta.DurationSeconds = &secs
	}
	s.mu.Lock()
	s.meta = &meta
	s.progress.Duration = meta.DurationSeconds
	s.mu.Unlock()
	for _, fn := range s.onMeta {
		fn(ctx, meta)
	}

	if meta.ChannelID == "" {
		return nil
	}
	badges, err := s.api.GetChannelBadges(ctx, meta.ChannelID)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.mu.Lock()
	s.badges = badges
	s.mu.Unlock()
	return nil
}

func (s *Session) loadComments(ctx context.Context) error {
	pager := NewPager(s.api, s.VideoID, s.pagerOpts...)
	for {
		edges, err := pager.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !twitchapi.IsCancelled(err) {
				telemetry.LoggerWithCorr(ctx).Warn("comment walk stopped",
					slog.String("component", "chat_session"),
					slog.String("session", s.ID),
					slog.String("cursor", pager.Cursor()))
			}
			return s.fail(ctx, err)
		}

		batch := ToEntries(edges, s.light, s.dark)
		kept := FilterEntries(batch, s.keep)

		s.mu.Lock()
		s.entries = append(s.entries, kept...)
		s.progress.Received += len(batch)
		s.progress.Kept += len(kept)
		s.progress.LastTimestamp = batch[len(batch)-1].Timestamp
		p := s.progress
		s.mu.Unlock()

		for _, fn := range s.onBatch {
			fn(ctx, kept, p)
		}
	}

	s.mu.Lock()
	s.progress.Done = true
	s.mu.Unlock()
	return nil
}

// fail records err unless it is a cancellation and returns it unchanged.
func (s *Session) fail(ctx context.Context, err error) error {
	if twitchapi.IsCancelled(err) {
		return err
	}
	s.mu.Lock()
	s.record(err.Error())
	s.mu.Unlock()
	if s.report != nil {
		s.report(ctx, err)
	}
	return err
}

// record appends msg to the error list once. Callers hold s.mu.
func (s *Session) record(msg string) {
	for _, m := range s.errs {
		if m == msg {
			return
		}
	}
	s.errs = append(s.errs, msg)
}

func (s *Session) logError(ctx context.Context, err error) {
	telemetry.LoggerWithCorr(ctx).Error("replay session failure",
		slog.String("component", "chat_session"),
		slog.String("session", s.ID),
		slog.String("video_id", s.VideoID),
		slog.Any("err", err))
}

// Metadata returns the video metadata, or nil while unknown or when the
// lookup failed.
func (s *Session) Metadata() *VideoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return nil
	}
	m := *s.meta
	return &m
}

// Badges returns the merged badge catalog, empty until loaded.
func (s *Session) Badges() twitchapi.BadgeCatalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.badges
}

// Entries returns a copy of the entries accumulated so far, in arrival order.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Progress returns the current progress.
func (s *Session) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Errors returns the human-readable failures recorded so far.
func (s *Session) Errors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.errs))
	copy(out, s.errs)
	return out
}

// VideoMissing reports whether the metadata lookup did not know the video.
func (s *Session) VideoMissing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missing
}

// Done reports whether Run has returned.
func (s *Session) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

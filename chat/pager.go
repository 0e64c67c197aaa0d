package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"golang.org/x/time/rate"

	"github.com/onnwee/rechat/backend/telemetry"
	"github.com/onnwee/rechat/backend/twitchapi"
)

// ErrCursorLoop is returned when a page's first cursor repeats the cursor used to request it.
var ErrCursorLoop = errors.New("comment cursor did not advance")

// CommentFetcher fetches a single page of comments. An empty cursor requests
// the first page.
type CommentFetcher interface {
	GetComments(ctx context.Context, videoID, cursor string) (*twitchapi.CommentsPage, error)
}

// PagerOption configures a Pager.
type PagerOption func(*Pager)

// WithRateLimit paces page requests through l. A nil limiter disables pacing.
func WithRateLimit(l *rate.Limiter) PagerOption {
	return func(p *Pager) { p.limiter = l }
}

// Pager yields the comment pages of one video in order. It is single
// consumer and not resumable: once it returns an error every later call
// returns the same error.
type Pager struct {
	fetcher CommentFetcher
	videoID string
	limiter *rate.Limiter

	cursor  string
	fetched bool
	last    bool
	err     error
}

// NewPager returns a pager positioned before the first page of videoID.
func NewPager(fetcher CommentFetcher, videoID string, opts ...PagerOption) *Pager {
	p := &Pager{fetcher: fetcher, videoID: videoID}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor returns the cursor the next request will use.
func (p *Pager) Cursor() string { return p.cursor }

// Next fetches the next page. It returns io.EOF once the sequence is
// exhausted, so callers only ever see non-empty batches.
func (p *Pager) Next(ctx context.Context) ([]twitchapi.CommentEdge, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.last {
		p.err = io.EOF
		return nil, p.err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				err = twitchapi.Cancelled(ctx.Err())
			}
			p.err = err
			return nil, err
		}
	}

	page, err := p.fetcher.GetComments(ctx, p.videoID, p.cursor)
	if err != nil {
		p.err = err
		return nil, err
	}
	if page == nil || len(page.Edges) == 0 {
		p.err = io.EOF
		return nil, p.err
	}

	next := page.Edges[0].Cursor
	switch {
	case next == "":
		p.last = true
	case p.fetched && next == p.cursor:
		p.err = fmt.Errorf("%w: %q", ErrCursorLoop, next)
		return nil, p.err
	}
	p.cursor = next
	p.fetched = true
	telemetry.ObservePage(len(page.Edges))
	return page.Edges, nil
}

// All adapts the pager to a range-over-func sequence. The sequence ends
// after the last page or after yielding a non-nil error.
func (p *Pager) All(ctx context.Context) iter.Seq2[[]twitchapi.CommentEdge, error] {
	return func(yield func([]twitchapi.CommentEdge, error) bool) {
		for {
			edges, err := p.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(edges, nil) {
				return
			}
		}
	}
}

package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/rechat/backend/telemetry"
)

const (
	DefaultGQLURL      = "https://gql.twitch.tv/gql"
	DefaultVideoAPIURL = "https://api.twgg.workers.dev/"
	DefaultBadgesURL   = "https://badges.twitch.tv/v1/badges/"
	// DefaultClientID is the public client id of the Twitch web player.
	DefaultClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"
	// CommentsQueryHash identifies the persisted VideoCommentsByOffsetOrCursor query.
	CommentsQueryHash = "b70a3591ff0f4e0313d126c6a1502d79a1c02baebb288227c582044aa76adf6a"

	commentsOperation = "VideoCommentsByOffsetOrCursor"
	tracerName        = "twitchapi"
)

// Client exposes the typed upstream operations needed to build a replay.
// All requests go through Executor.
type Client struct {
	GQLURL            string
	VideoAPIURL       string
	BadgesURL         string
	ClientID          string
	CommentsQueryHash string
	Executor          *Executor
}

// NewClient returns a client using the public endpoints. A nil exec gets a
// default executor on http.DefaultClient.
func NewClient(exec *Executor) *Client {
	if exec == nil {
		exec = NewExecutor(nil)
	}
	return &Client{
		GQLURL:            DefaultGQLURL,
		VideoAPIURL:       DefaultVideoAPIURL,
		BadgesURL:         DefaultBadgesURL,
		ClientID:          DefaultClientID,
		CommentsQueryHash: CommentsQueryHash,
		Executor:          exec,
	}
}

// GetVideo looks up duration and owning channel of a video. It returns
// ErrNotFound when the response mapping has no entry for videoID.
func (c *Client) GetVideo(ctx context.Context, videoID string) (_ *Video, err error) {
	if videoID == "" {
		return nil, fmt.Errorf("videoID empty")
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GetVideo", telemetry.VideoIDAttr(videoID))
	defer func() { endSpan(span, err); span.End() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(c.VideoAPIURL, "videos"), nil)
	if err != nil {
		return nil, fmt.Errorf("build video request: %w", err)
	}
	q := req.URL.Query()
	q.Set("id", videoID)
	req.URL.RawQuery = q.Encode()

	body, err := c.Executor.Do(ctx, "video", req)
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", videoID, err)
	}
	var videos map[string]Video
	if err := json.Unmarshal(body, &videos); err != nil {
		return nil, fmt.Errorf("decode video %s: %w", videoID, err)
	}
	v, ok := videos[videoID]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	return &v, nil
}

// GetComments fetches one page of comments. An empty cursor requests the
// first page, anchored at offset zero.
func (c *Client) GetComments(ctx context.Context, videoID, cursor string) (_ *CommentsPage, err error) {
	if videoID == "" {
		return nil, fmt.Errorf("videoID empty")
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GetComments", telemetry.VideoIDAttr(videoID))
	defer func() { endSpan(span, err); span.End() }()

	vars := map[string]any{"videoID": videoID}
	if cursor != "" {
		vars["cursor"] = cursor
	} else {
		vars["contentOffsetSeconds"] = 0
	}
	payload, err := json.Marshal([]gqlRequest{{
		OperationName: commentsOperation,
		Variables:     vars,
		Extensions: gqlExtensions{PersistedQuery: persistedQuery{
			Version:    1,
			SHA256Hash: c.CommentsQueryHash,
		}},
	}})
	if err != nil {
		return nil, fmt.Errorf("encode comments query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GQLURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build comments request: %w", err)
	}
	req.Header.Set("Client-ID", c.ClientID)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.Executor.Do(ctx, "comments", req)
	if err != nil {
		return nil, fmt.Errorf("get comments %s: %w", videoID, err)
	}
	var resp []commentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode comments %s: %w", videoID, err)
	}
	if len(resp) == 0 {
		return &CommentsPage{}, nil
	}
	r := resp[0]
	if r.Data.Video == nil {
		if len(r.Errors) > 0 {
			return nil, fmt.Errorf("comments %s: %w: %s", videoID, ErrNotFound, gqlErrorText(r.Errors))
		}
		return nil, fmt.Errorf("comments %s: video %w", videoID, ErrNotFound)
	}
	if r.Data.Video.Comments == nil {
		return &CommentsPage{}, nil
	}
	return r.Data.Video.Comments, nil
}

// GetBadges fetches the badge catalog of one scope.
func (c *Client) GetBadges(ctx context.Context, scope BadgeScope) (_ BadgeCatalog, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "GetBadges")
	defer func() { endSpan(span, err); span.End() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(c.BadgesURL, scope.path()), nil)
	if err != nil {
		return nil, fmt.Errorf("build badges request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.Executor.Do(ctx, "badges", req)
	if err != nil {
		return nil, fmt.Errorf("get %s badges: %w", scope, err)
	}
	var resp badgesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s badges: %w", scope, err)
	}
	if resp.BadgeSets == nil {
		return BadgeCatalog{}, nil
	}
	return resp.BadgeSets, nil
}

// GetChannelBadges fetches the global catalog, then the channel's, and merges
// them with channel sets taking precedence.
func (c *Client) GetChannelBadges(ctx context.Context, channelID string) (BadgeCatalog, error) {
	global, err := c.GetBadges(ctx, GlobalBadges)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return global, nil
	}
	channel, err := c.GetBadges(ctx, ChannelBadges(url.PathEscape(channelID)))
	if err != nil {
		return nil, err
	}
	return MergeBadgeCatalogs(global, channel), nil
}

func joinURL(base, path string) string {
	if strings.HasSuffix(base, "/") {
		return base + path
	}
	return base + "/" + path
}

func gqlErrorText(errs []gqlError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// endSpan marks span with the outcome of an operation. Cancellation is an
// expected outcome and is not recorded as an error.
func endSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		telemetry.SetSpanSuccess(span)
	case IsCancelled(err):
		span.AddEvent("cancelled")
	default:
		telemetry.RecordError(span, err)
	}
}

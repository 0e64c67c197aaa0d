package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/rechat/backend/testutil"
)

func newMockClient(m *testutil.MockTwitchServer) *Client {
	e, _ := newTestExecutor(m.Client())
	c := NewClient(e)
	c.GQLURL = m.GQLURL()
	c.VideoAPIURL = m.VideoAPIURL()
	c.BadgesURL = m.BadgesURL()
	return c
}

func TestClient_GetVideo(t *testing.T) {
	tests := []struct {
		videos       map[string]map[string]string
		want         *Video
		name         string
		videoID      string
		wantNotFound bool
	}{
		{
			name:    "found",
			videoID: "123",
			videos: map[string]map[string]string{
				"123": {"id": "123", "duration": "1h2m3s", "userId": "456"},
			},
			want: &Video{ID: "123", Duration: "1h2m3s", UserID: "456"},
		},
		{
			name:    "absent from mapping",
			videoID: "999",
			videos: map[string]map[string]string{
				"123": {"id": "123", "duration": "10s", "userId": "456"},
			},
			wantNotFound: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockTwitchServer(t)
			m.MockVideoResponse(tt.videos)
			var gotID string
			h := m.Handlers["/videos"]
			m.Handlers["/videos"] = func(w http.ResponseWriter, r *http.Request) {
				gotID = r.URL.Query().Get("id")
				h(w, r)
			}

			v, err := newMockClient(m).GetVideo(context.Background(), tt.videoID)
			if gotID != tt.videoID {
				t.Errorf("id query param = %q, want %q", gotID, tt.videoID)
			}
			if tt.wantNotFound {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("GetVideo() error = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetVideo() unexpected error = %v", err)
			}
			if diff := cmp.Diff(tt.want, v); diff != "" {
				t.Errorf("GetVideo() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClient_GetVideoEmptyID(t *testing.T) {
	c := NewClient(nil)
	if _, err := c.GetVideo(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "videoID empty") {
		t.Errorf("GetVideo(\"\") error = %v", err)
	}
}

func TestClient_GetCommentsRequestShape(t *testing.T) {
	tests := []struct {
		name     string
		cursor   string
		wantVars map[string]any
	}{
		{
			name:     "first page anchored at offset zero",
			cursor:   "",
			wantVars: map[string]any{"videoID": "42", "contentOffsetSeconds": float64(0)},
		},
		{
			name:     "following page by cursor",
			cursor:   "abc",
			wantVars: map[string]any{"videoID": "42", "cursor": "abc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockTwitchServer(t)
			m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				if r.Header.Get("Client-ID") != DefaultClientID {
					t.Errorf("Client-ID header = %q", r.Header.Get("Client-ID"))
				}
				body, _ := io.ReadAll(r.Body)
				var ops []map[string]any
				if err := json.Unmarshal(body, &ops); err != nil || len(ops) != 1 {
					t.Errorf("request body is not a single-operation list: %v (%s)", err, body)
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				op := ops[0]
				if op["operationName"] != "VideoCommentsByOffsetOrCursor" {
					t.Errorf("operationName = %v", op["operationName"])
				}
				if diff := cmp.Diff(tt.wantVars, op["variables"]); diff != "" {
					t.Errorf("variables mismatch (-want +got):\n%s", diff)
				}
				ext, _ := op["extensions"].(map[string]any)
				pq, _ := ext["persistedQuery"].(map[string]any)
				if pq["version"] != float64(1) || pq["sha256Hash"] != CommentsQueryHash {
					t.Errorf("persistedQuery = %v", pq)
				}
				_ = json.NewEncoder(w).Encode(testutil.CommentsResponse([]map[string]any{
					testutil.CommentEdge("c1", "m1", "alice", 3, "#ff0000", "moderator/1"),
				}))
			}

			page, err := newMockClient(m).GetComments(context.Background(), "42", tt.cursor)
			if err != nil {
				t.Fatalf("GetComments() unexpected error = %v", err)
			}
			if len(page.Edges) != 1 {
				t.Fatalf("edges = %d, want 1", len(page.Edges))
			}
			e := page.Edges[0]
			if e.Cursor != "c1" || e.Node.ID != "m1" || e.Node.ContentOffsetSeconds != 3 {
				t.Errorf("edge = %+v", e)
			}
			if e.Node.Commenter == nil || e.Node.Commenter.Login != "alice" {
				t.Errorf("commenter = %+v", e.Node.Commenter)
			}
			if e.Node.Message.UserColor == nil || *e.Node.Message.UserColor != "#ff0000" {
				t.Errorf("userColor = %v", e.Node.Message.UserColor)
			}
			if diff := cmp.Diff([]Badge{{ID: "moderator/1", SetID: "moderator", Version: "1"}}, e.Node.Message.UserBadges); diff != "" {
				t.Errorf("badges mismatch (-want +got):\n%s", diff)
			}
			if !page.PageInfo.HasNextPage {
				t.Errorf("hasNextPage = false, want true")
			}
		})
	}
}

func TestClient_GetCommentsMissingVideo(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"data":{"video":null},"errors":[{"message":"service error"}]}]`))
	}
	_, err := newMockClient(m).GetComments(context.Background(), "42", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetComments() error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "service error") {
		t.Errorf("error %q should carry the GraphQL message", err)
	}
}

func TestClient_GetCommentsPropagatesTerminalFailure(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"down"}`))
	}
	_, err := newMockClient(m).GetComments(context.Background(), "42", "")
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("GetComments() error = %v, want *RequestError", err)
	}
	if rerr.StatusCode != http.StatusServiceUnavailable || rerr.Endpoint != "comments" {
		t.Errorf("RequestError = %+v", rerr)
	}
	if got := m.Requests("/gql"); got != DefaultMaxAttempts {
		t.Errorf("gql requests = %d, want %d", got, DefaultMaxAttempts)
	}
}

func TestClient_CancelledContextPropagates(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockBadgesResponse("global/display", map[string]any{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newMockClient(m).GetBadges(ctx, GlobalBadges)
	if !IsCancelled(err) {
		t.Fatalf("GetBadges() error = %v, want cancelled", err)
	}
	if got := m.Requests("/badges/global/display"); got != 0 {
		t.Errorf("requests after cancel = %d, want 0", got)
	}
}

func TestClient_GetChannelBadges(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockBadgesResponse("global/display", map[string]any{
		"subscriber": map[string]any{"versions": map[string]any{
			"0": map[string]any{"image_url_1x": "g/sub/0/1x", "image_url_2x": "g/sub/0/2x", "image_url_4x": "g/sub/0/4x", "title": "Subscriber"},
			"1": map[string]any{"image_url_1x": "g/sub/1/1x", "title": "1-Month Subscriber"},
		}},
		"moderator": map[string]any{"versions": map[string]any{
			"1": map[string]any{"image_url_1x": "g/mod/1x", "title": "Moderator"},
		}},
	})
	m.MockBadgesResponse("channels/456/display", map[string]any{
		"subscriber": map[string]any{"versions": map[string]any{
			"12": map[string]any{"image_url_1x": "c/sub/12/1x", "title": "1-Year Subscriber"},
		}},
	})

	catalog, err := newMockClient(m).GetChannelBadges(context.Background(), "456")
	if err != nil {
		t.Fatalf("GetChannelBadges() unexpected error = %v", err)
	}
	if _, ok := catalog.Lookup(Badge{SetID: "subscriber", Version: "0"}); ok {
		t.Error("global subscriber versions leaked into channel-owned set")
	}
	if v, ok := catalog.Lookup(Badge{SetID: "subscriber", Version: "12"}); !ok || v.ImageURL1x != "c/sub/12/1x" {
		t.Errorf("subscriber/12 = %+v, %v", v, ok)
	}
	if v, ok := catalog.Lookup(Badge{SetID: "moderator", Version: "1"}); !ok || v.Title != "Moderator" {
		t.Errorf("moderator/1 = %+v, %v", v, ok)
	}
	if m.Requests("/badges/global/display") != 1 || m.Requests("/badges/channels/456/display") != 1 {
		t.Errorf("unexpected badge request counts")
	}
}

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks the comment GraphQL
// endpoint, the video lookup and the badge endpoints.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests map[string]int
	cursors  []string
}

// NewMockTwitchServer creates a new mock Twitch API server. Paths are
// /gql, /videos and /badges/...; point a client's base URLs at
// GQLURL, VideoAPIURL and BadgesURL.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.requests[key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	t.Cleanup(m.Close)
	return m
}

// GQLURL is the comment endpoint URL.
func (m *MockTwitchServer) GQLURL() string { return m.URL + "/gql" }

// VideoAPIURL is the base URL of the video lookup.
func (m *MockTwitchServer) VideoAPIURL() string { return m.URL + "/" }

// BadgesURL is the base URL of the badge endpoints.
func (m *MockTwitchServer) BadgesURL() string { return m.URL + "/badges/" }

// Requests returns how many requests hit path.
func (m *MockTwitchServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// Cursors returns the cursor variable of every comments request in order;
// the first page is recorded as "".
func (m *MockTwitchServer) Cursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cursors...)
}

// MockVideoResponse adds a handler for /videos answering with the given
// id -> video mapping.
func (m *MockTwitchServer) MockVideoResponse(videos map[string]map[string]string) {
	m.Handlers["/videos"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(videos) //nolint:errcheck // test mock response
	}
}

// MockBadgesResponse adds a handler for a badge scope path such as
// "global/display" or "channels/123/display".
func (m *MockTwitchServer) MockBadgesResponse(scopePath string, sets map[string]any) {
	m.Handlers["/badges/"+strings.TrimPrefix(scopePath, "/")] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"badge_sets": sets}) //nolint:errcheck // test mock response
	}
}

// MockCommentPages scripts the comment endpoint. pages[0] answers the request
// without a cursor; pages[n] answers the request whose cursor equals the first
// edge cursor of pages[n-1]. Requests past the script get an empty page.
func (m *MockTwitchServer) MockCommentPages(pages [][]map[string]any) {
	byCursor := map[string][]map[string]any{}
	prev := ""
	for _, p := range pages {
		byCursor[prev] = p
		if len(p) == 0 {
			break
		}
		prev, _ = p[0]["cursor"].(string)
	}
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req []struct {
			Variables map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(body, &req); err != nil || len(req) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad request"}`))
			return
		}
		cursor, _ := req[0].Variables["cursor"].(string)
		m.mu.Lock()
		m.cursors = append(m.cursors, cursor)
		m.mu.Unlock()
		edges, ok := byCursor[cursor]
		if !ok {
			edges = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CommentsResponse(edges)) //nolint:errcheck // test mock response
	}
}

// CommentsResponse wraps edges in the GraphQL response envelope.
func CommentsResponse(edges []map[string]any) []map[string]any {
	if edges == nil {
		edges = []map[string]any{}
	}
	return []map[string]any{{
		"data": map[string]any{
			"video": map[string]any{
				"id":      "1",
				"creator": map[string]any{"id": "99", "login": "creator", "displayName": "Creator"},
				"comments": map[string]any{
					"edges":    edges,
					"pageInfo": map[string]any{"hasNextPage": len(edges) > 0, "hasPreviousPage": false},
				},
			},
		},
		"extensions": map[string]any{"durationMilliseconds": 5, "operationName": "VideoCommentsByOffsetOrCursor", "requestID": "req"},
	}}
}

// CommentEdge builds a comment edge with the fields the replay uses.
func CommentEdge(cursor, id, login string, offset int, color string, badges ...string) map[string]any {
	userBadges := []map[string]any{}
	for _, b := range badges {
		set, version, _ := strings.Cut(b, "/")
		userBadges = append(userBadges, map[string]any{"id": b, "setID": set, "version": version})
	}
	var userColor any
	if color != "" {
		userColor = color
	}
	return map[string]any{
		"cursor": cursor,
		"node": map[string]any{
			"id":                   id,
			"commenter":            map[string]any{"id": "u-" + login, "login": login, "displayName": strings.ToUpper(login[:1]) + login[1:]},
			"contentOffsetSeconds": offset,
			"createdAt":            "2024-01-01T00:00:00Z",
			"message": map[string]any{
				"fragments":  []map[string]any{{"emote": nil, "text": "hello from " + login}},
				"userBadges": userBadges,
				"userColor":  userColor,
			},
		},
	}
}

// MockReplay scripts a complete replay: videoID lasts 100 seconds and belongs
// to channelID, the global badges hold subscriber/0 and vip/1, the channel
// overrides the subscriber set with subscriber/12, and comments follow pages.
func (m *MockTwitchServer) MockReplay(videoID, channelID string, pages [][]map[string]any) {
	m.MockVideoResponse(map[string]map[string]string{
		videoID: {"id": videoID, "duration": "1m40s", "userId": channelID},
	})
	m.MockBadgesResponse("global/display", map[string]any{
		"subscriber": map[string]any{"versions": map[string]any{"0": map[string]any{"title": "Subscriber"}}},
		"vip":        map[string]any{"versions": map[string]any{"1": map[string]any{"title": "VIP"}}},
	})
	m.MockBadgesResponse("channels/"+channelID+"/display", map[string]any{
		"subscriber": map[string]any{"versions": map[string]any{"12": map[string]any{"title": "1-Year Subscriber"}}},
	})
	m.MockCommentPages(pages)
}

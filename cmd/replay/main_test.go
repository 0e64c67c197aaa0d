package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/onnwee/rechat/backend/config"
	"github.com/onnwee/rechat/backend/testutil"
	"github.com/onnwee/rechat/backend/twitchapi"
)

func newTestAPI(m *testutil.MockTwitchServer) *twitchapi.Client {
	exec := twitchapi.NewExecutor(m.Client())
	exec.MaxAttempts = 2
	exec.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	c := twitchapi.NewClient(exec)
	c.GQLURL = m.GQLURL()
	c.VideoAPIURL = m.VideoAPIURL()
	c.BadgesURL = m.BadgesURL()
	return c
}

func scriptReplay(m *testutil.MockTwitchServer) {
	m.MockReplay("v1", "42", [][]map[string]any{
		{
			testutil.CommentEdge("c1", "m1", "streamer", 10, "#FF0000", "broadcaster/1"),
			testutil.CommentEdge("c2", "m2", "viewer", 20, ""),
		},
		{},
	})
}

func decodeLines(t *testing.T, out *bytes.Buffer) []string {
	t.Helper()
	var ids []string
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var e struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line is not JSON: %q: %v", sc.Text(), err)
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func TestRunPrintsKeptEntries(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	scriptReplay(m)

	var out bytes.Buffer
	if err := run(context.Background(), &config.Config{}, newTestAPI(m), "v1", true, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	ids := decodeLines(t, &out)
	if len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("ids = %v, want [m1]", ids)
	}
}

func TestRunWithoutFilter(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	scriptReplay(m)

	var out bytes.Buffer
	if err := run(context.Background(), &config.Config{}, newTestAPI(m), "v1", false, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ids := decodeLines(t, &out); len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
}

func TestRunToleratesMetadataFailure(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	scriptReplay(m)
	m.MockVideoResponse(map[string]map[string]string{})

	var out bytes.Buffer
	if err := run(context.Background(), &config.Config{}, newTestAPI(m), "v1", false, &out); err != nil {
		t.Fatalf("metadata failure should not fail the run: %v", err)
	}
	if ids := decodeLines(t, &out); len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
}

func TestRunFailsWhenCommentsFail(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	scriptReplay(m)
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}

	var out bytes.Buffer
	if err := run(context.Background(), &config.Config{}, newTestAPI(m), "v1", true, &out); err == nil {
		t.Fatal("expected an error when the comment walk fails")
	}
}

func TestRunInterruptedAfterMetadataFailure(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	scriptReplay(m)
	m.Handlers["/videos"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The comment walk is interrupted only after the metadata sequence has
	// failed for good, so the session's first error is not the cancellation.
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		deadline := time.Now().Add(5 * time.Second)
		for m.Requests("/videos") < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		cancel()
		<-r.Context().Done()
	}

	var out bytes.Buffer
	err := run(ctx, &config.Config{}, newTestAPI(m), "v1", true, &out)
	if !twitchapi.IsCancelled(err) {
		t.Fatalf("run = %v, want cancellation", err)
	}
}

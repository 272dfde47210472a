package sse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenDownstreamParsesFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 1\nevent: progress\ndata: {\"message\":\"hi\"}\n\n")
		fmt.Fprint(w, "id: 2\nevent: complete\ndata: {\"status\":\"completed\"}\n\n")
	}))
	defer server.Close()

	out := make(chan Frame, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := openDownstream(ctx, server.Client(), server.URL, "task-1", out); err != nil {
		t.Fatalf("openDownstream failed: %v", err)
	}
	close(out)

	var frames []Frame
	for f := range out {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Event != "progress" || frames[0].ID != "1" {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
	if frames[1].Event != "complete" || frames[1].Data != `{"status":"completed"}` {
		t.Fatalf("unexpected second frame: %+v", frames[1])
	}
}

package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/application/generation"
	apperrors "articleforge-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveRun(t *testing.T, run func(ctx context.Context, sink generation.Sink) error) (*http.Response, []map[string]any) {
	t.Helper()
	r := gin.New()
	r.GET("/stream", func(c *gin.Context) {
		Serve(c, 4, run)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("unexpected line %q", line)
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return resp, events
}

func TestServeWritesDeltaEvents(t *testing.T) {
	resp, events := serveRun(t, func(ctx context.Context, sink generation.Sink) error {
		for _, chunk := range []string{"A", "B", "C"} {
			ev := generation.Event{Type: generation.EventContent, SectionIndex: generation.DraftSectionIndex, Content: chunk, Status: "streaming"}
			if err := sink.Send(ctx, ev); err != nil {
				return err
			}
		}
		return sink.Send(ctx, generation.Event{Type: generation.EventComplete, Content: "ABC", Progress: 100, WordCount: 1, ReadingTime: 1})
	})

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Fatalf("missing X-Accel-Buffering header")
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	var sb strings.Builder
	for _, ev := range events[:3] {
		if ev["type"] != "content" || ev["sectionIndex"].(float64) != -1 {
			t.Fatalf("event = %v", ev)
		}
		sb.WriteString(ev["content"].(string))
	}
	if sb.String() != "ABC" {
		t.Fatalf("concatenated = %q", sb.String())
	}
	last := events[3]
	if last["type"] != "complete" || last["progress"].(float64) != 100 {
		t.Fatalf("last event = %v", last)
	}
}

func TestServeEmitsErrorWhenRunFails(t *testing.T) {
	_, events := serveRun(t, func(ctx context.Context, sink generation.Sink) error {
		_ = sink.Send(ctx, generation.Event{Type: generation.EventStatus, Phase: generation.PhaseDrafting})
		return apperrors.ErrRateLimited.WithError(errors.New(`{"error":"raw provider body"}`))
	})

	if len(events) != 2 {
		t.Fatalf("events = %v", events)
	}
	last := events[1]
	if last["type"] != "error" || last["code"] != string(apperrors.CodeRateLimited) {
		t.Fatalf("error event = %v", last)
	}
	if strings.Contains(last["message"].(string), "raw provider body") {
		t.Fatalf("provider body leaked into message: %v", last["message"])
	}
}

func TestRelayRejectsSendsAfterTerminal(t *testing.T) {
	relay := NewRelay(4)
	ctx := context.Background()

	if err := relay.Send(ctx, generation.ErrorEvent("boom", "5000")); err != nil {
		t.Fatalf("first terminal: %v", err)
	}
	if err := relay.Send(ctx, generation.Event{Type: generation.EventComplete}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("err = %v, want ErrStreamClosed", err)
	}
	if err := relay.Send(ctx, generation.Event{Type: generation.EventStatus}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("err = %v, want ErrStreamClosed", err)
	}
}

func TestRelaySendDoesNotBlockAfterCancel(t *testing.T) {
	relay := NewRelay(1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := relay.Send(ctx, generation.Event{Type: generation.EventStatus}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cancel()
	if err := relay.Send(ctx, generation.Event{Type: generation.EventStatus}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwbudde/badger/internal/runner"
)

func TestEventBroadcaster_SubscribeReceivesLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Broadcast(runner.Event{Kind: runner.EventProgress, RunID: "r1"})

	ch := eb.Subscribe("r1")
	defer eb.Unsubscribe("r1", ch)

	select {
	case ev := <-ch:
		if ev.Kind != runner.EventProgress {
			t.Errorf("expected cached progress event, got %s", ev.Kind)
		}
	default:
		t.Fatal("new subscriber should receive the last event")
	}
}

func TestEventBroadcaster_RoutesByRun(t *testing.T) {
	eb := NewEventBroadcaster()
	a := eb.Subscribe("a")
	b := eb.Subscribe("b")
	defer eb.Unsubscribe("a", a)
	defer eb.Unsubscribe("b", b)

	eb.Broadcast(runner.Event{Kind: runner.EventPhase, RunID: "a"})

	if len(a) != 1 {
		t.Errorf("subscriber of a should have 1 event, has %d", len(a))
	}
	if len(b) != 0 {
		t.Errorf("subscriber of b should have no events, has %d", len(b))
	}
}

func TestEventBroadcaster_UnsubscribeTwice(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("r1")
	eb.Unsubscribe("r1", ch)
	eb.Unsubscribe("r1", ch) // must not close twice

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// unknown channel
	eb.Unsubscribe("r1", make(chan runner.Event))
}

func TestEventBroadcaster_FullBufferDoesNotBlock(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("r1")
	defer eb.Unsubscribe("r1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			eb.Broadcast(runner.Event{Kind: runner.EventProgress, RunID: "r1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}

func TestEventBroadcaster_FinishedClosesSlowSubscriber(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("r1")
	for i := 0; i < cap(ch); i++ {
		eb.Broadcast(runner.Event{Kind: runner.EventProgress, RunID: "r1"})
	}
	eb.Broadcast(runner.Event{Kind: runner.EventFinished, RunID: "r1"})

	n := 0
	for range ch {
		n++
	}
	if n != cap(ch) {
		t.Errorf("expected %d buffered events before close, got %d", cap(ch), n)
	}
	eb.Unsubscribe("r1", ch) // already removed; no-op
}

func TestEventBroadcaster_CleanupRun(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("r1")
	eb.Broadcast(runner.Event{Kind: runner.EventProgress, RunID: "r1"})

	eb.CleanupRun("r1")

	<-ch // buffered event
	if _, ok := <-ch; ok {
		t.Error("channel should be closed by cleanup")
	}

	fresh := eb.Subscribe("r1")
	defer eb.Unsubscribe("r1", fresh)
	if len(fresh) != 0 {
		t.Error("cleanup should drop the cached event")
	}
}

func TestServer_SSEStreamEndsWithFinished(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	run := startTestRun(t, s, createRunRequest{RoutineYAML: testRoutineYAML("sse", 0.01), MaxEval: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/runs/"+run.ID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 || kinds[0] != "status" {
		t.Fatalf("stream should open with a status event, got %v", kinds)
	}
	// A run that finished before the client connected ends after the status.
	last := kinds[len(kinds)-1]
	if last != string(runner.EventFinished) && len(kinds) != 1 {
		t.Errorf("stream should end with finished, got %v", kinds)
	}
}

func TestServer_WebSocketControlsRun(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	run := startTestRun(t, s, createRunRequest{RoutineYAML: testRoutineYAML("ws", 0.02)})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var status runner.Status
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status.ID != run.ID {
		t.Errorf("expected status for %s, got %s", run.ID, status.ID)
	}

	if err := conn.WriteJSON(controlMessage{Action: "stop"}); err != nil {
		t.Fatalf("failed to send stop: %v", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("connection ended before finished event: %v", err)
		}
		var ev runner.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event %s: %v", data, err)
		}
		if ev.Kind == runner.EventFinished {
			if ev.Outcome != runner.OutcomeTerminated {
				t.Errorf("expected terminated, got %s", ev.Outcome)
			}
			return
		}
	}
}

func TestServer_WebSocketRejectsUnknownAction(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	run := startTestRun(t, s, createRunRequest{RoutineYAML: testRoutineYAML("ws-bad", 0.05)})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteJSON(controlMessage{Action: "explode"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("no error reply received: %v", err)
		}
		if e, ok := msg["error"].(string); ok {
			if !strings.Contains(e, "explode") {
				t.Errorf("unexpected error message %q", e)
			}
			return
		}
	}
}

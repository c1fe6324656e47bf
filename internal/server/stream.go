package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cwbudde/badger/internal/runner"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// EventBroadcaster fans run events out to stream subscribers
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan runner.Event]bool // runID -> set of client channels
	lastEvent map[string]runner.Event               // runID -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan runner.Event]bool),
		lastEvent: make(map[string]runner.Event),
	}
}

// Subscribe adds a client to receive events for a run
func (eb *EventBroadcaster) Subscribe(runID string) chan runner.Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan runner.Event, 64) // Buffered to prevent blocking

	if eb.clients[runID] == nil {
		eb.clients[runID] = make(map[chan runner.Event]bool)
	}
	eb.clients[runID][ch] = true

	// Send last event if available (for reconnecting clients)
	if last, ok := eb.lastEvent[runID]; ok {
		ch <- last
	}

	slog.Debug("Stream client subscribed", "run_id", runID, "total_clients", len(eb.clients[runID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (eb *EventBroadcaster) Unsubscribe(runID string, ch chan runner.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	clients, ok := eb.clients[runID]
	if !ok || !clients[ch] {
		return
	}
	delete(clients, ch)
	close(ch)
	if len(clients) == 0 {
		delete(eb.clients, runID)
	}
	slog.Debug("Stream client unsubscribed", "run_id", runID)
}

// Broadcast sends an event to all subscribed clients for a run. It never
// blocks: a client whose buffer is full misses the event, except for the
// finished event, which closes its stream instead.
func (eb *EventBroadcaster) Broadcast(ev runner.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[ev.RunID] = ev

	clients := eb.clients[ev.RunID]
	for ch := range clients {
		select {
		case ch <- ev:
		default:
			slog.Warn("Stream channel full, skipping event", "run_id", ev.RunID, "kind", ev.Kind)
			if ev.Kind == runner.EventFinished {
				delete(clients, ch)
				close(ch)
			}
		}
	}
}

// CleanupRun removes all clients and cached events for a run
func (eb *EventBroadcaster) CleanupRun(runID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.clients[runID] {
		close(ch)
	}
	delete(eb.clients, runID)
	delete(eb.lastEvent, runID)
	slog.Debug("Cleaned up stream resources", "run_id", runID)
}

// handleRunStream serves GET /api/v1/runs/:id/stream as server-sent events.
// The stream ends after the finished event.
func (s *Server) handleRunStream(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := s.manager.broadcaster.Subscribe(run.ID)
	defer s.manager.broadcaster.Unsubscribe(run.ID, events)

	// Current status first, so a client connecting mid-run has a baseline
	status := run.Status()
	if err := writeSSE(w, "status", status); err != nil {
		return nil
	}
	w.Flush()
	if status.Phase.Terminal() {
		return nil
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Stream client disconnected", "run_id", run.ID)
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(w, string(ev.Kind), ev); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return nil
			}
			w.Flush()
			if ev.Kind == runner.EventFinished {
				return nil
			}

		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			w.Flush()
		}
	}
}

// writeSSE writes one event in SSE format
func writeSSE(w http.ResponseWriter, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
	return err
}

// controlMessage is what a WebSocket client sends to steer a run.
type controlMessage struct {
	Action string `json:"action"` // pause, resume, stop
}

// handleRunWS serves GET /api/v1/runs/:id/ws: run events out, control
// messages in.
func (s *Server) handleRunWS(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade WebSocket", "error", err)
		return nil
	}
	defer conn.Close()

	events := s.manager.broadcaster.Subscribe(run.ID)
	defer s.manager.broadcaster.Unsubscribe(run.ID, events)

	// reader: control messages until the client goes away
	closed := make(chan struct{})
	var writeMu sync.Mutex
	go func() {
		defer close(closed)
		for {
			var msg controlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("WebSocket read error", "run_id", run.ID, "error", err)
				}
				return
			}
			if err := s.control(run, msg.Action); err != nil {
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteJSON(map[string]string{"error": err.Error()})
				writeMu.Unlock()
			}
		}
	}()

	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	if err := write(run.Status()); err != nil {
		return nil
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := write(ev); err != nil {
				return nil
			}
			if ev.Kind == runner.EventFinished {
				writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				writeMu.Unlock()
				return nil
			}
		case <-ping.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return nil
			}
		}
	}
}

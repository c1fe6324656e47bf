package intf

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// LogEntry is one recorded channel access.
type LogEntry struct {
	Timestamp float64        `json:"timestamp"`
	Action    string         `json:"action"`
	Inputs    map[string]any `json:"channel_inputs,omitempty"`
	Outputs   map[string]any `json:"channel_outputs,omitempty"`
}

// Recorder wraps an Interface and, between StartRecording and
// StopRecording, logs every get and set.
type Recorder struct {
	Interface

	mu        sync.Mutex
	recording bool
	logs      []LogEntry
}

// NewRecorder wraps inner.
func NewRecorder(inner Interface) *Recorder {
	return &Recorder{Interface: inner}
}

func (r *Recorder) GetValues(ctx context.Context, channels []string) (map[string]any, error) {
	out, err := r.Interface.GetValues(ctx, channels)
	if err != nil {
		return nil, err
	}
	r.append(LogEntry{Action: "get_values", Outputs: out})
	return out, nil
}

func (r *Recorder) SetValues(ctx context.Context, values map[string]any) error {
	r.append(LogEntry{Action: "set_values", Inputs: values})
	return r.Interface.SetValues(ctx, values)
}

func (r *Recorder) append(e LogEntry) {
	e.Timestamp = float64(time.Now().UnixNano()) / 1e9
	r.mu.Lock()
	if r.recording {
		r.logs = append(r.logs, e)
	}
	r.mu.Unlock()
}

// StartRecording clears the log and starts logging calls.
func (r *Recorder) StartRecording() {
	r.mu.Lock()
	r.recording = true
	r.logs = nil
	r.mu.Unlock()
}

// Recording reports whether calls are being logged.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Logs returns a copy of the current log.
func (r *Recorder) Logs() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.logs...)
}

// StopRecording stops logging, writes the log to path and clears it.
func (r *Recorder) StopRecording(path string) error {
	r.mu.Lock()
	r.recording = false
	r.mu.Unlock()

	if err := r.DumpRecording(path); err != nil {
		return err
	}
	r.mu.Lock()
	r.logs = nil
	r.mu.Unlock()
	return nil
}

// DumpRecording writes the log to path as JSON lines without clearing it.
// An empty log writes nothing.
func (r *Recorder) DumpRecording(path string) error {
	logs := r.Logs()
	if len(logs) == 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range logs {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode recording entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush recording: %w", err)
	}
	return f.Close()
}

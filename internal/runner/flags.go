package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// Flags carries the controls shared between a controller and its worker.
// Stop is a flag polled by the worker; pause is a gate the worker waits on at
// iteration boundaries. Neither interrupts an evaluation in progress.
type Flags struct {
	stop atomic.Bool

	mu     sync.Mutex
	paused bool
	wake   chan struct{}
}

func NewFlags() *Flags {
	return &Flags{wake: make(chan struct{})}
}

// Stop requests termination and releases a paused worker.
func (f *Flags) Stop() {
	f.stop.Store(true)
	f.mu.Lock()
	f.broadcastLocked()
	f.mu.Unlock()
}

// Stopped reports whether a stop was requested.
func (f *Flags) Stopped() bool {
	return f.stop.Load()
}

// Pause closes the gate.
func (f *Flags) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

// Resume opens the gate.
func (f *Flags) Resume() {
	f.mu.Lock()
	f.paused = false
	f.broadcastLocked()
	f.mu.Unlock()
}

// Paused reports whether the gate is closed.
func (f *Flags) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *Flags) broadcastLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

// WaitIfPaused blocks while the gate is closed. onPause runs once when the
// caller starts waiting and onResume once when it stops. It returns early on
// stop or when ctx is done.
func (f *Flags) WaitIfPaused(ctx context.Context, onPause, onResume func()) error {
	waited := false
	for {
		f.mu.Lock()
		if !f.paused || f.stop.Load() {
			f.mu.Unlock()
			if waited && onResume != nil {
				onResume()
			}
			return nil
		}
		wake := f.wake
		f.mu.Unlock()

		if !waited {
			waited = true
			if onPause != nil {
				onPause()
			}
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Package runner executes routines: it owns the run-session state machine,
// the evaluation loop and the controls (pause, resume, stop, kill) a user
// applies while a run is in flight.
package runner

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is the lifecycle state of a run session.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"
	PhaseStopping   Phase = "stopping"
	PhaseFinished   Phase = "finished"
	PhaseErrored    Phase = "errored"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseErrored
}

// Outcome says how a finished run ended.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeCompleted  Outcome = "completed"
	OutcomeTerminated Outcome = "terminated"
	OutcomeErrored    Outcome = "errored"
	OutcomeAborted    Outcome = "aborted"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

var transitions = map[Phase][]Phase{
	PhaseNotStarted: {PhaseRunning, PhaseErrored},
	PhaseRunning:    {PhasePaused, PhaseStopping, PhaseFinished, PhaseErrored},
	PhasePaused:     {PhaseRunning, PhaseStopping, PhaseFinished, PhaseErrored},
	PhaseStopping:   {PhaseFinished, PhaseErrored},
}

// Session tracks the phase of one run. It is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	phase     Phase
	startedAt time.Time
	endedAt   time.Time
	onChange  func(Phase)
}

// NewSession returns a session in PhaseNotStarted.
func NewSession() *Session {
	return &Session{phase: PhaseNotStarted}
}

// OnChange registers fn to run after every phase change, outside the lock.
func (s *Session) OnChange(fn func(Phase)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// StartedAt returns when the session entered PhaseRunning.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// EndedAt returns when the session reached a terminal phase.
func (s *Session) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

// Transition moves to phase to, enforcing the transition table. A move to
// the current phase is a no-op.
func (s *Session) Transition(to Phase) error {
	s.mu.Lock()
	changed := s.phase != to
	err := s.transitionLocked(to)
	fn := s.onChange
	s.mu.Unlock()
	if err == nil && changed && fn != nil {
		fn(to)
	}
	return err
}

// TransitionFrom moves to phase to only when the session is in from.
func (s *Session) TransitionFrom(from, to Phase) bool {
	s.mu.Lock()
	if s.phase != from || from == to {
		s.mu.Unlock()
		return false
	}
	ok := s.transitionLocked(to) == nil
	fn := s.onChange
	s.mu.Unlock()
	if ok && fn != nil {
		fn(to)
	}
	return ok
}

func (s *Session) transitionLocked(to Phase) error {
	if s.phase == to {
		return nil
	}
	for _, allowed := range transitions[s.phase] {
		if allowed == to {
			if s.phase == PhaseNotStarted {
				s.startedAt = time.Now()
			}
			s.phase = to
			if to.Terminal() {
				s.endedAt = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
}

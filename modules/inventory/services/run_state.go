package services

import (
	"sync"
	"time"
)

// RunState is the auditor's single-flight guard and health surface. It is
// injectable so tests and multiple schedules can carry their own instance
// instead of sharing process-global mutable state.
type RunState struct {
	mu          sync.Mutex
	running     bool
	lastStarted time.Time
	lastRun     time.Time
	lastDur     time.Duration
}

func NewRunState() *RunState {
	return &RunState{}
}

// TryStart marks a run in flight. It returns false when one is already
// running; the caller must then no-op rather than queue.
func (s *RunState) TryStart(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.lastStarted = now
	return true
}

func (s *RunState) Finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = now
	s.lastDur = now.Sub(s.lastStarted)
}

type RunHealth struct {
	Running         bool          `json:"running"`
	LastRunAt       time.Time     `json:"last_run_at"`
	LastRunDuration time.Duration `json:"last_run_duration"`
}

func (s *RunState) Health() RunHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RunHealth{
		Running:         s.running,
		LastRunAt:       s.lastRun,
		LastRunDuration: s.lastDur,
	}
}

package transfer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// pauseProbeInterval is how often a paused session re-checks the signal.
const pauseProbeInterval = 100 * time.Millisecond

// ErrCancelled indicates a session was cancelled at a chunk boundary.
var ErrCancelled = errors.New("transfer cancelled")

// Signal carries cooperative pause and cancel state shared between a
// controller and any number of in-flight sessions. Sessions poll it at
// chunk boundaries, so a pause takes effect within one chunk write and
// never tears down the connection.
type Signal struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
}

// NewSignal creates a signal in the running state.
func NewSignal() *Signal {
	return &Signal{}
}

// Pause asks sessions to hold at their next chunk boundary.
func (s *Signal) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume releases paused sessions.
func (s *Signal) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Cancel marks the signal cancelled. Cancel wins over pause: paused
// sessions observe the cancellation on their next probe.
func (s *Signal) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Reset returns the signal to the running state for reuse.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.cancelled = false
}

// Paused reports whether a pause is requested.
func (s *Signal) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Cancelled reports whether the signal has been cancelled.
func (s *Signal) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Checkpoint is called by sessions between chunks. It returns immediately
// when running, blocks while paused, and returns ErrCancelled once
// cancelled. Context cancellation also unblocks a paused session.
func (s *Signal) Checkpoint(ctx context.Context) error {
	for {
		s.mu.Lock()
		cancelled := s.cancelled
		paused := s.paused
		s.mu.Unlock()

		if cancelled {
			return ErrCancelled
		}
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pauseProbeInterval):
		}
	}
}

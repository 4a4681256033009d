// Package scheduler drives the retry coordinator on a fixed cadence and on
// app foreground/background transitions, independent of any screen being
// visible.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Coordinator is the slice of the upload coordinator the scheduler drives.
type Coordinator interface {
	// DrainOne attempts one queued record if the single-flight gate is free.
	DrainOne(ctx context.Context) error

	// ReleaseInFlight clears stale in-flight flags and re-enqueues those
	// records.
	ReleaseInFlight(ctx context.Context) ([]string, error)
}

// Scheduler ticks the coordinator at a passive cadence while backgrounded
// and a short opportunistic cadence while foregrounded.
type Scheduler struct {
	coord      Coordinator
	passive    time.Duration
	foreground time.Duration

	mu           sync.Mutex
	foregrounded bool

	// wake forces an immediate drain outside the tick cadence.
	wake chan struct{}
}

// New creates a scheduler. passive is the background retry interval
// (typically 5m), foreground the opportunistic interval while the app is
// active (typically 3s).
func New(coord Coordinator, passive, foreground time.Duration) *Scheduler {
	return &Scheduler{
		coord:      coord,
		passive:    passive,
		foreground: foreground,
		wake:       make(chan struct{}, 1),
	}
}

// Run drives the cadence until ctx is cancelled. Drain errors are logged
// and never terminate the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}

		if err := s.coord.DrainOne(ctx); err != nil {
			slog.Warn("Scheduled drain failed", "error", err)
		}
		ticker.Reset(s.interval())
	}
}

// EnterForeground switches to the opportunistic cadence. Any record left
// queued by the background-suspend path is attempted immediately.
func (s *Scheduler) EnterForeground(ctx context.Context) {
	s.mu.Lock()
	s.foregrounded = true
	s.mu.Unlock()

	if _, err := s.coord.ReleaseInFlight(ctx); err != nil {
		slog.Error("Failed to release in-flight records on foreground", "error", err)
	}
	s.kick()
}

// EnterBackground switches to the passive cadence and makes sure no record
// stays stuck in uploading state across the suspend: in-flight flags are
// cleared and the records re-enqueued for a future wake cycle.
func (s *Scheduler) EnterBackground(ctx context.Context) {
	s.mu.Lock()
	s.foregrounded = false
	s.mu.Unlock()

	if _, err := s.coord.ReleaseInFlight(ctx); err != nil {
		slog.Error("Failed to release in-flight records on background", "error", err)
	}
}

// Kick requests one immediate drain outside the cadence.
func (s *Scheduler) Kick() {
	s.kick()
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default: // a wake is already pending
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foregrounded {
		return s.foreground
	}
	return s.passive
}

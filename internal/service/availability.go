package service

import (
	"context"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/pkg/clock"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// AvailabilityChecker answers whether the translation backend is reachable.
type AvailabilityChecker interface {
	Available(ctx context.Context) error
}

// Monitor pauses the worker pool while the backend is unreachable and
// resumes it once a check succeeds.
type Monitor struct {
	checker  AvailabilityChecker
	gate     *jobs.Gate
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	kick     chan struct{}
}

func NewMonitor(checker AvailabilityChecker, gate *jobs.Gate, interval, timeout time.Duration, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		checker:  checker,
		gate:     gate,
		interval: interval,
		timeout:  timeout,
		clock:    clk,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate check, e.g. after a transient job failure.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Check probes once and updates the gate. It reports availability.
func (m *Monitor) Check(ctx context.Context) bool {
	checkCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.checker.Available(checkCtx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		if m.gate.Pause(err.Error()) {
			log.Warn("backend_unavailable pausing workers error=%v", err)
		}
		return false
	}
	if m.gate.Resume() {
		log.Info("backend_available resuming workers")
	}
	return true
}

// Run checks immediately, then on every interval or kick, until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.kick:
		case <-m.clock.After(m.interval):
		}
		m.Check(ctx)
	}
}

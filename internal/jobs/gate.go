package jobs

import (
	"context"
	"sync"
	"time"
)

// Gate pauses every worker while the translation backend is unreachable.
// A paused gate blocks Wait; jobs that have not started stay pending.
type Gate struct {
	mu     sync.Mutex
	paused bool
	reason string
	since  time.Time
	open   chan struct{}
}

func NewGate() *Gate {
	open := make(chan struct{})
	close(open)
	return &Gate{open: open}
}

// Pause closes the gate. It returns false when the gate was already closed.
func (g *Gate) Pause(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.reason = reason
	g.since = time.Now()
	g.open = make(chan struct{})
	return true
}

// Resume opens the gate. It returns false when the gate was already open.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	g.reason = ""
	g.since = time.Time{}
	close(g.open)
	return true
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Status returns the pause reason and when the pause began.
func (g *Gate) Status() (paused bool, reason string, since time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused, g.reason, g.since
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

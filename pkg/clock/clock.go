// Package clock abstracts time so that backoff, debounce and polling can be
// driven manually in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// Real is backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Fake only moves when Advance is called, or on every wait when auto advance is on.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	auto    bool
	waiters []*fakeTimer
	waits   []time.Duration
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	ch       chan time.Time
	fn       func()
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// SetAutoAdvance makes every After call return immediately after moving the
// clock forward by the requested duration.
func (f *Fake) SetAutoAdvance(on bool) {
	f.mu.Lock()
	f.auto = on
	f.mu.Unlock()
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	f.mu.Lock()
	f.waits = append(f.waits, d)
	if f.auto || d <= 0 {
		if d > 0 {
			f.now = f.now.Add(d)
		}
		now := f.now
		f.mu.Unlock()
		ch <- now
		return ch
	}
	f.waiters = append(f.waiters, &fakeTimer{clock: f, deadline: f.now.Add(d), ch: ch})
	f.mu.Unlock()
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), fn: fn}
	f.waiters = append(f.waiters, t)
	f.mu.Unlock()
	return t
}

// Advance moves the clock and fires every timer whose deadline has passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due, keep []*fakeTimer
	for _, w := range f.waiters {
		if !w.deadline.After(now) {
			due = append(due, w)
		} else {
			keep = append(keep, w)
		}
	}
	f.waiters = keep
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		if w.fn != nil {
			w.fn()
			continue
		}
		w.ch <- now
	}
}

// Pending reports how many timers are waiting to fire.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Waits returns every duration passed to After, in call order.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

func (t *fakeTimer) Stop() bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w == t {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

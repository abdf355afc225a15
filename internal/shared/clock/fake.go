package clock

import (
	"sort"
	"sync"
	"time"
)

// NewFake returns a FakeClock pinned to start. Time moves only when Advance
// is called; pending waiters fire when the clock passes their deadline.
func NewFake(start time.Time) *FakeClock {
	f := &FakeClock{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// FakeClock is a deterministic Clock for tests. Safe for concurrent use.
//
// The usual shape of a test is: run the code under test in a goroutine, call
// WaitForTimers to let it register its sleep, then Advance to fire it.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// Now returns the current fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a waiter that fires when the clock advances past d from
// now. A non-positive d delivers immediately.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, &waiter{deadline: f.now.Add(d), ch: ch})
	f.changed.Broadcast()
	return ch
}

// Sleep blocks until the clock advances past d.
func (f *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-f.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose deadline
// falls within the new time, in deadline order. Sends are non-blocking; the
// waiter channels are buffered so an un-received fire is never lost.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now

	var due, remaining []*waiter
	for _, w := range f.waiters {
		if !w.deadline.After(target) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		select {
		case w.ch <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending. This removes
// the race between a goroutine registering its sleep and the test advancing
// the clock.
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.waiters) < n {
		f.changed.Wait()
	}
}

// PendingCount returns the number of registered, unfired waiters.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

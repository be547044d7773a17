// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually driven clock. In its default mode Sleep blocks until
// Advance moves the clock past the sleeper's deadline. With NewAutoFake every
// Sleep advances the clock by its duration and returns at once, which suits
// single-goroutine tests that only need to observe the delays.
type Fake struct {
	mu       sync.Mutex
	now      time.Time
	auto     bool
	sleepers []*sleeper
	slept    []time.Duration
}

type sleeper struct {
	until time.Time
	wake  chan struct{}
}

// NewFake returns a blocking fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewAutoFake returns a fake clock whose sleeps complete immediately.
func NewAutoFake(start time.Time) *Fake {
	return &Fake{now: start, auto: true}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	f.mu.Lock()
	f.slept = append(f.slept, d)
	if f.auto {
		f.now = f.now.Add(d)
		f.mu.Unlock()
		return ctx.Err()
	}
	s := &sleeper{until: f.now.Add(d), wake: make(chan struct{})}
	f.sleepers = append(f.sleepers, s)
	f.mu.Unlock()

	select {
	case <-s.wake:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		f.remove(s)
		f.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves the clock forward by d and wakes every sleeper whose
// deadline has passed. Woken sleepers are no longer counted by Sleepers
// when Advance returns.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fire()
}

// AdvanceToNext moves the clock to the earliest pending deadline and wakes
// the sleepers due at that instant. It reports false when nobody sleeps.
func (f *Fake) AdvanceToNext() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sleepers) == 0 {
		return false
	}
	next := f.sleepers[0].until
	for _, s := range f.sleepers[1:] {
		if s.until.Before(next) {
			next = s.until
		}
	}
	if next.After(f.now) {
		f.now = next
	}
	f.fire()
	return true
}

// Sleepers returns the number of goroutines blocked in Sleep.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleepers)
}

// Slept returns every duration passed to Sleep so far, in call order.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}

func (f *Fake) fire() {
	kept := f.sleepers[:0]
	for _, s := range f.sleepers {
		if !s.until.After(f.now) {
			close(s.wake)
			continue
		}
		kept = append(kept, s)
	}
	f.sleepers = kept
}

func (f *Fake) remove(target *sleeper) {
	for i, s := range f.sleepers {
		if s == target {
			f.sleepers = append(f.sleepers[:i], f.sleepers[i+1:]...)
			return
		}
	}
}

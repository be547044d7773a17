// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit enforces a minimum interval between consecutive requests
// to the same provider, plus any Retry-After floor the provider announced.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/internal/logging"
)

// Limiter spaces dispatches to one provider. Spacing comes from a token
// bucket with a burst of one; the Retry-After floor sits on top of it.
// Callers take reservations one at a time, so a reservation abandoned for
// a new floor or a cancelled context can always hand its token back.
type Limiter struct {
	name    string
	clock   clock.Clock
	log     *logrus.Entry
	limiter *rate.Limiter

	// slot is a one-element semaphore; unlike a mutex it can be abandoned
	// when the caller's context ends.
	slot chan struct{}

	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
	dispatched  bool
	notBefore   time.Time
}

// NewLimiter returns a limiter for provider with the given minimum interval.
// A zero interval disables spacing; Retry-After floors still apply.
func NewLimiter(provider string, minInterval time.Duration, c clock.Clock, log *logrus.Entry) *Limiter {
	return &Limiter{
		name:        provider,
		clock:       clock.OrReal(c),
		log:         logging.OrDiscard(log),
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		slot:        make(chan struct{}, 1),
		minInterval: minInterval,
	}
}

// Provider returns the canonical provider name.
func (l *Limiter) Provider() string { return l.name }

// MinInterval returns the configured spacing.
func (l *Limiter) MinInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minInterval
}

// SetMinInterval replaces the spacing for subsequent acquires.
func (l *Limiter) SetMinInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minInterval = d
	l.limiter.SetLimitAt(l.clock.Now(), rate.Every(d))
}

// LastDispatch returns the time recorded by the most recent acquire.
func (l *Limiter) LastDispatch() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.dispatched
}

// Acquire blocks until the provider may be called again and records the
// dispatch. The first acquire never waits unless a Retry-After floor is
// pending. If ctx ends first, nothing is recorded and ctx.Err() is returned.
func (l *Limiter) Acquire(ctx context.Context) error {
	_, err := l.AcquireAt(ctx)
	return err
}

// AcquireAt is Acquire returning the recorded dispatch time.
func (l *Limiter) AcquireAt(ctx context.Context) (time.Time, error) {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
	defer func() { <-l.slot }()

	for {
		now := l.clock.Now()
		if floor := l.floorFrom(now); floor > 0 {
			l.log.WithFields(logrus.Fields{"provider": l.name, "delay": floor}).Debug("waiting out retry-after")
			if err := l.clock.Sleep(ctx, floor); err != nil {
				return time.Time{}, err
			}
			continue
		}

		r := l.limiter.ReserveN(now, 1)
		wait := ceilMicro(r.DelayFrom(now))
		if wait > 0 {
			l.log.WithFields(logrus.Fields{"provider": l.name, "delay": wait}).Debug("rate limit wait")
			if err := l.clock.Sleep(ctx, wait); err != nil {
				r.CancelAt(l.clock.Now())
				return time.Time{}, err
			}
			// A hint that arrived while we slept outranks this reservation.
			if l.floorFrom(l.clock.Now()) > 0 {
				r.CancelAt(l.clock.Now())
				continue
			}
		}

		at := l.clock.Now()
		l.mu.Lock()
		l.last = at
		l.dispatched = true
		if !l.notBefore.After(at) {
			l.notBefore = time.Time{}
		}
		l.mu.Unlock()
		return at, nil
	}
}

// ObserveRetryAfter makes the next acquire wait at least d from now, on top
// of the interval rule. A later hint replaces an earlier one only when it
// reaches further into the future.
func (l *Limiter) ObserveRetryAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	until := l.clock.Now().Add(d)
	l.mu.Lock()
	defer l.mu.Unlock()
	if until.After(l.notBefore) {
		l.notBefore = until
	}
	l.log.WithFields(logrus.Fields{"provider": l.name, "delay": d}).Info("provider asked to retry later")
}

func (l *Limiter) floorFrom(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notBefore.Sub(now)
}

// ceilMicro rounds d up to a whole microsecond. The token bucket computes
// delays in floating point, which can land a nanosecond short of the interval.
func ceilMicro(d time.Duration) time.Duration {
	if rem := d % time.Microsecond; rem > 0 {
		d += time.Microsecond - rem
	}
	return d
}

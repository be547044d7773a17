// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the transport, circuit breaker and retry
// machinery behind every provider request.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// RetryableStatuses are the HTTP statuses worth another attempt.
var RetryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ErrRetriesExhausted matches every *RetriesExhaustedError.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetriesExhaustedError reports that every attempt failed with a retryable
// failure.
type RetriesExhaustedError struct {
	Attempts int
	Last     types.Outcome
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %s", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// RetryPolicy is immutable once built.
type RetryPolicy struct {
	MaxRetries        int
	BackoffFactor     float64
	MaxBackoff        time.Duration
	RaiseOnExhaustion bool
}

// PolicyFrom converts configuration into a policy.
func PolicyFrom(cfg types.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		BackoffFactor:     cfg.BackoffFactor,
		MaxBackoff:        cfg.MaxBackoff,
		RaiseOnExhaustion: cfg.RaiseOnExhaustion,
	}
}

// Backoff returns the delay before retry k (k >= 1):
// min(BackoffFactor * 2^k seconds, MaxBackoff). A zero MaxBackoff retries
// without delay; DefaultConfig supplies the usual 120s cap.
func (p RetryPolicy) Backoff(k int) time.Duration {
	if k < 1 || p.BackoffFactor <= 0 {
		return 0
	}
	secs := p.BackoffFactor * math.Pow(2, float64(k))
	d := time.Duration(math.MaxInt64)
	if secs < float64(math.MaxInt64)/float64(time.Second) {
		d = time.Duration(secs * float64(time.Second))
	}
	if d > p.MaxBackoff {
		d = max(p.MaxBackoff, 0)
	}
	return d
}

// Retryable reports whether a failed outcome deserves another attempt.
func Retryable(o types.Outcome) bool {
	switch o.Kind {
	case types.KindTransportFailure:
		return true
	case types.KindHTTPFailure:
		return RetryableStatuses[o.StatusCode]
	default:
		return false
	}
}

// ParseRetryAfter reads a Retry-After value given either as delta seconds or
// as an HTTP-date. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// RetryAfter extracts the hint carried by an outcome's response headers.
func RetryAfter(o types.Outcome, now time.Time) (time.Duration, bool) {
	return ParseRetryAfter(o.Header("Retry-After"), now)
}

// Retrier runs an attempt function under a RetryPolicy.
type Retrier struct {
	Policy RetryPolicy
	Clock  clock.Clock
	Log    *logrus.Entry
}

// NewRetrier returns a retrier. Nil clock and logger fall back to the wall
// clock and a discarding logger.
func NewRetrier(p RetryPolicy, c clock.Clock, log *logrus.Entry) *Retrier {
	return &Retrier{Policy: p, Clock: clock.OrReal(c), Log: logging.OrDiscard(log)}
}

// Execute calls attempt up to MaxRetries+1 times. It returns the first
// successful or non-retryable outcome. When every attempt fails with a
// retryable failure it returns the last outcome, plus a
// *RetriesExhaustedError if the policy raises on exhaustion. There is no
// sleep after the final attempt.
func (r *Retrier) Execute(ctx context.Context, attempt func(ctx context.Context) types.Outcome) (types.Outcome, error) {
	c := clock.OrReal(r.Clock)
	log := logging.OrDiscard(r.Log)

	for n := 0; ; n++ {
		out := attempt(ctx)
		if out.OK() || !Retryable(out) {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, nil
		}
		if n >= r.Policy.MaxRetries {
			attempts := n + 1
			log.WithFields(logrus.Fields{"attempts": attempts, "last": out.String()}).Warn("retries exhausted")
			if r.Policy.RaiseOnExhaustion {
				err := &RetriesExhaustedError{Attempts: attempts, Last: out}
				return out.WithErr(err), err
			}
			return out, nil
		}

		delay := r.Policy.Backoff(n + 1)
		if hint, ok := RetryAfter(out, c.Now()); ok {
			delay = hint
		}
		log.WithFields(logrus.Fields{"attempt": n + 1, "delay": delay, "failure": out.String()}).Info("retrying request")
		if err := c.Sleep(ctx, delay); err != nil {
			return types.TransportFailure(fmt.Errorf("retry backoff interrupted: %w", err)), nil
		}
	}
}

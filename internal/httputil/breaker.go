// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// errUnhealthyStatus marks responses that count against the breaker while
// still being handed back to the caller.
var errUnhealthyStatus = errors.New("unhealthy response status")

// BreakerTransport wraps a Transport in a circuit breaker. Transport errors,
// 429 and 5xx responses count as failures; once the breaker opens, Send fails
// fast with gobreaker.ErrOpenState until the open timeout passes.
type BreakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps next with a breaker named after the provider.
func NewBreakerTransport(name string, next Transport, cfg types.BreakerConfig, log *logrus.Entry) *BreakerTransport {
	log = logging.OrDiscard(log)
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"provider": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}
	return &BreakerTransport{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker state.
func (b *BreakerTransport) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerTransport) Send(ctx context.Context, req Request) (*Response, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		resp, err := b.next.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resp, errUnhealthyStatus
		}
		return resp, nil
	})
	if errors.Is(err, errUnhealthyStatus) {
		return result.(*Response), nil
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit breaker %s: %w", b.cb.Name(), err)
		}
		return nil, err
	}
	return result.(*Response), nil
}

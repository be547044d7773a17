// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/pkg/types"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var defaultPolicy = RetryPolicy{MaxRetries: 3, BackoffFactor: 0.5, MaxBackoff: 120 * time.Second}

// sendOutcome performs one request through the transport and classifies it.
func sendOutcome(tr Transport, url string) func(ctx context.Context) types.Outcome {
	return func(ctx context.Context) types.Outcome {
		resp, err := tr.Send(ctx, Request{URL: url})
		if err != nil {
			return types.TransportFailure(err)
		}
		if resp.StatusCode != http.StatusOK {
			return types.HTTPFailure(resp.StatusCode, "", resp.Raw())
		}
		return types.Success(nil, nil, resp.Raw())
	}
}

func TestBackoffSequence(t *testing.T) {
	var got []time.Duration
	for k := 1; k <= 3; k++ {
		got = append(got, defaultPolicy.Backoff(k))
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, got)
}

func TestBackoffCapped(t *testing.T) {
	p := RetryPolicy{BackoffFactor: 0.5, MaxBackoff: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(200))
	assert.Zero(t, p.Backoff(0))
	assert.Zero(t, RetryPolicy{}.Backoff(3))
}

func TestBackoffZeroCap(t *testing.T) {
	p := RetryPolicy{BackoffFactor: 0.5, MaxBackoff: 0}
	assert.Zero(t, p.Backoff(1))
	assert.Zero(t, p.Backoff(3))
}

func TestPolicyFromDefaultConfig(t *testing.T) {
	p := PolicyFrom(types.DefaultConfig().Retry)
	assert.Equal(t, 120*time.Second, p.MaxBackoff)
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 120*time.Second, p.Backoff(10))
}

func TestExecute_ImmediateSuccess(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fc := clock.NewAutoFake(epoch)
	out, err := NewRetrier(defaultPolicy, fc, nil).Execute(context.Background(), sendOutcome(&HTTPTransport{Client: ts.Client()}, ts.URL))
	require.NoError(t, err)

	assert.True(t, out.OK())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, fc.Slept())
}

func TestExecute_RetriesThen200(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fc := clock.NewAutoFake(epoch)
	out, err := NewRetrier(defaultPolicy, fc, nil).Execute(context.Background(), sendOutcome(&HTTPTransport{Client: ts.Client()}, ts.URL))
	require.NoError(t, err)

	assert.True(t, out.OK())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fc.Slept())
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	fc := clock.NewAutoFake(epoch)
	out, err := NewRetrier(defaultPolicy, fc, nil).Execute(context.Background(), sendOutcome(&HTTPTransport{Client: ts.Client()}, ts.URL))
	require.NoError(t, err)

	assert.False(t, out.OK())
	assert.Equal(t, http.StatusTooManyRequests, out.StatusCode)
	// 1 initial + 3 retries = 4 total calls, no sleep after the last one.
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, fc.Slept())
}

func TestExecute_RaiseOnExhaustion(t *testing.T) {
	policy := defaultPolicy
	policy.RaiseOnExhaustion = true
	attempts := 0
	out, err := NewRetrier(policy, clock.NewAutoFake(epoch), nil).Execute(context.Background(), func(context.Context) types.Outcome {
		attempts++
		return types.TransportFailure(errors.New("connection reset"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, 4, attempts)
	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err, ErrRetriesExhausted)
}

func TestExecute_NonRetryablePassesThrough(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(status)
			}))
			defer ts.Close()

			out, err := NewRetrier(defaultPolicy, clock.NewAutoFake(epoch), nil).Execute(context.Background(), sendOutcome(&HTTPTransport{Client: ts.Client()}, ts.URL))
			require.NoError(t, err)
			assert.Equal(t, status, out.StatusCode)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestExecute_RetryAfterOverridesBackoff(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "17")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fc := clock.NewAutoFake(epoch)
	out, err := NewRetrier(defaultPolicy, fc, nil).Execute(context.Background(), sendOutcome(&HTTPTransport{Client: ts.Client()}, ts.URL))
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Equal(t, []time.Duration{17 * time.Second}, fc.Slept())
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out types.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := NewRetrier(defaultPolicy, fc, nil).Execute(ctx, func(context.Context) types.Outcome {
			return types.HTTPFailure(http.StatusServiceUnavailable, "", nil)
		})
		done <- result{out, err}
	}()
	require.Eventually(t, func() bool { return fc.Sleepers() == 1 }, time.Second, time.Millisecond)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, types.KindTransportFailure, res.out.Kind)
	assert.ErrorIs(t, res.out.Err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{name: "seconds", value: "120", want: 2 * time.Minute, ok: true},
		{name: "padded", value: " 3 ", want: 3 * time.Second, ok: true},
		{name: "http date", value: epoch.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second, ok: true},
		{name: "past date", value: epoch.Add(-time.Hour).Format(http.TimeFormat), want: 0, ok: true},
		{name: "empty", value: "", ok: false},
		{name: "garbage", value: "soon", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, epoch)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(types.TransportFailure(errors.New("timeout"))))
	for _, s := range []int{429, 500, 503, 504} {
		assert.True(t, Retryable(types.HTTPFailure(s, "", nil)), "status %d", s)
	}
	for _, s := range []int{400, 401, 403, 404, 502} {
		assert.False(t, Retryable(types.HTTPFailure(s, "", nil)), "status %d", s)
	}
	assert.False(t, Retryable(types.Success(nil, nil, nil)))
}

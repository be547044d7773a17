// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package request performs one logical page request against a provider:
// parameter building, rate limiting, the network exchange and decoding.
// It does not retry; retries wrap FetchPage from the outside.
package request

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/internal/decode"
	"github.com/pdiddy/research-harvester/internal/httputil"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/provider"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// Limiter is the slice of the rate limiter registry the executor needs.
type Limiter interface {
	Acquire(ctx context.Context, provider string) error
	ObserveRetryAfter(provider string, d time.Duration)
}

// Page identifies one page request.
type Page struct {
	Provider       provider.Config
	Query          string
	Page           int
	RecordsPerPage int
	Params         map[string]string
	APIKey         string
}

// Executor sends page requests for one coordinator. It owns its transport.
type Executor struct {
	Transport httputil.Transport
	Limiter   Limiter
	Clock     clock.Clock
	Log       *logrus.Entry
}

// FetchPage waits for the provider's limiter, sends the request and turns
// the result into an outcome. Any Retry-After hint on the response is passed
// to the limiter so the next request to that provider honors it.
func (e *Executor) FetchPage(ctx context.Context, p Page) types.Outcome {
	log := logging.OrDiscard(e.Log).WithFields(logrus.Fields{"provider": p.Provider.Name, "page": p.Page})

	req, err := BuildRequest(p)
	if err != nil {
		return types.TransportFailure(err)
	}
	if e.Transport == nil {
		return types.TransportFailure(errors.New("no transport configured"))
	}

	if e.Limiter != nil {
		if err := e.Limiter.Acquire(ctx, p.Provider.Name); err != nil {
			return types.TransportFailure(fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	log.Debug("sending request")
	resp, err := e.Transport.Send(ctx, req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return types.TransportFailure(err)
	}

	if e.Limiter != nil {
		if hint, ok := httputil.ParseRetryAfter(headerValue(resp.Headers, "Retry-After"), clock.OrReal(e.Clock).Now()); ok && hint > 0 {
			e.Limiter.ObserveRetryAfter(p.Provider.Name, hint)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status", resp.StatusCode).Warn("provider returned error status")
		return types.HTTPFailure(resp.StatusCode, errorMessage(resp), resp.Raw())
	}

	records, metadata, err := decode.For(p.Provider.Decoder).Decode(resp.Body)
	if err != nil {
		log.WithError(err).Warn("could not decode response")
		return types.HTTPFailure(resp.StatusCode, err.Error(), resp.Raw())
	}
	log.WithField("records", len(records)).Debug("page decoded")
	return types.Success(records, metadata, resp.Raw())
}

// BuildRequest maps a page onto the provider's URL, parameters and headers.
func BuildRequest(p Page) (httputil.Request, error) {
	params, err := p.Provider.Params(p.Query, p.Page, p.RecordsPerPage, p.Params)
	if err != nil {
		return httputil.Request{}, fmt.Errorf("building %s parameters: %w", p.Provider.Name, err)
	}
	headers := http.Header{}
	if p.APIKey != "" {
		switch {
		case p.Provider.Parameters.APIKeyHeader != "":
			headers.Set(p.Provider.Parameters.APIKeyHeader, p.APIKey)
		case p.Provider.Parameters.APIKey != "":
			params[p.Provider.Parameters.APIKey] = p.APIKey
		}
	}
	return httputil.Request{
		Method:  http.MethodGet,
		URL:     p.Provider.BaseURL,
		Params:  params,
		Headers: headers,
	}, nil
}

func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vs := range h {
		if len(vs) > 0 && strings.EqualFold(k, name) {
			return vs[0]
		}
	}
	return ""
}

// errorMessage keeps a short prefix of an error body for the outcome.
func errorMessage(resp *httputil.Response) string {
	const maxLen = 200
	msg := strings.TrimSpace(string(resp.Body))
	if msg == "" {
		return http.StatusText(resp.StatusCode)
	}
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return msg
}

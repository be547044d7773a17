// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pdiddy/research-harvester/pkg/types"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 32 << 20

// Request is one outbound provider call.
type Request struct {
	Method  string
	URL     string
	Params  map[string]string
	Headers http.Header
}

// Response is a fully read provider response.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Raw converts the response for storage in an outcome.
func (r *Response) Raw() *types.RawResponse {
	if r == nil {
		return nil
	}
	return &types.RawResponse{URL: r.URL, StatusCode: r.StatusCode, Headers: r.Headers, Body: r.Body}
}

// Transport performs a request. A response with any status is returned with
// a nil error; the error is reserved for requests that produced no response.
// Implementations are not assumed to be safe for concurrent use, so each
// coordinator owns its transport.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport sends requests with net/http.
type HTTPTransport struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64
}

// NewHTTPTransport returns a transport with its own client.
func NewHTTPTransport(cfg types.HTTPConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: cfg.UserAgent,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, r Request) (*Response, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing URL %q: %w", r.URL, err)
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for k, v := range r.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range r.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Host, err)
	}
	defer resp.Body.Close()

	limit := t.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{
		URL:        u.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the data structures shared by the harvesting engine,
// its collaborators and the command line.
package types

import (
	"fmt"
	"net/http"
	"strings"
)

// Record is one decoded result entry as returned by a provider.
type Record map[string]any

// Kind tags which variant of Outcome is populated.
type Kind string

const (
	KindSuccess          Kind = "success"
	KindHTTPFailure      Kind = "http_failure"
	KindTransportFailure Kind = "transport_failure"
)

// RawResponse keeps the provider response that produced an outcome so callers
// can inspect headers (for example Retry-After) after the fact.
type RawResponse struct {
	URL        string      `json:"url" yaml:"url"`
	StatusCode int         `json:"status_code" yaml:"status_code"`
	Headers    http.Header `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty" yaml:"-"`
}

// Outcome is the result of one logical page request. Exactly one variant is
// meaningful, selected by Kind:
//
//   - KindSuccess: Records, Metadata and Response.
//   - KindHTTPFailure: StatusCode, Message and Response.
//   - KindTransportFailure: Message.
//
// Err optionally carries a typed cause for errors.As inspection, such as a
// retry exhaustion or a workflow step failure. FromCache is set on outcomes
// served from the response cache.
type Outcome struct {
	Kind       Kind           `json:"kind" yaml:"kind"`
	Records    []Record       `json:"records,omitempty" yaml:"records,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	StatusCode int            `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Message    string         `json:"message,omitempty" yaml:"message,omitempty"`
	Response   *RawResponse   `json:"response,omitempty" yaml:"-"`
	FromCache  bool           `json:"from_cache,omitempty" yaml:"from_cache,omitempty"`
	Err        error          `json:"-" yaml:"-"`
}

// Success builds a successful outcome.
func Success(records []Record, metadata map[string]any, resp *RawResponse) Outcome {
	return Outcome{Kind: KindSuccess, Records: records, Metadata: metadata, Response: resp}
}

// HTTPFailure builds an outcome for a response with a non-success status.
func HTTPFailure(status int, message string, resp *RawResponse) Outcome {
	if message == "" {
		message = http.StatusText(status)
	}
	return Outcome{Kind: KindHTTPFailure, StatusCode: status, Message: message, Response: resp}
}

// TransportFailure builds an outcome for a request that produced no response.
func TransportFailure(err error) Outcome {
	o := Outcome{Kind: KindTransportFailure, Err: err}
	if err != nil {
		o.Message = err.Error()
	}
	return o
}

// OK reports whether the outcome is a success. Failures are falsy.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Header returns the named response header, matched case-insensitively, or
// "" when the outcome has no response.
func (o Outcome) Header(name string) string {
	if o.Response == nil {
		return ""
	}
	for k, vs := range o.Response.Headers {
		if len(vs) > 0 && strings.EqualFold(k, name) {
			return vs[0]
		}
	}
	return ""
}

// WithErr returns a copy of o carrying err as its typed cause.
func (o Outcome) WithErr(err error) Outcome {
	o.Err = err
	return o
}

// String renders a one-line summary suitable for logs and tables.
func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("success (%d records)", len(o.Records))
	case KindHTTPFailure:
		return fmt.Sprintf("http %d: %s", o.StatusCode, o.Message)
	case KindTransportFailure:
		return "transport failure: " + o.Message
	default:
		return "unknown outcome"
	}
}

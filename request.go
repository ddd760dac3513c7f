package chatkit

import (
	"context"
	"strings"

	"github.com/chatkit-go/chatkit/payload"
)

// Mode tags which transport delivered a request.
type Mode string

const (
	// ModeHTTP marks requests delivered over the platform's HTTP callbacks.
	ModeHTTP Mode = "http"
	// ModeSocket marks requests delivered over the socket transport.
	ModeSocket Mode = "socket-transport"
)

// Request is the normalized inbound request. It is immutable once
// constructed; only the embedded Context mutates during dispatch.
type Request struct {
	// RawBody is the body exactly as the transport delivered it.
	RawBody string
	// Payload is the parsed body. Never nil; decode failures leave it empty.
	Payload payload.Body
	// Query holds query parameters, always multi-valued.
	Query map[string][]string
	// Headers holds request headers, lower-cased names, always multi-valued.
	Headers map[string][]string
	// ContentType is the media type portion of the content-type header.
	ContentType string
	// Mode tags the delivering transport.
	Mode Mode
	// Context is the mutable per-request bag.
	Context *Context

	stdctx context.Context
}

// RequestOption customizes request construction.
type RequestOption func(*Request)

// WithMode overrides the transport mode tag (the default is ModeHTTP).
func WithMode(m Mode) RequestOption {
	return func(r *Request) {
		r.Mode = m
	}
}

// WithStdContext attaches the transport's context.Context, bounding any
// network calls made while handling this request.
func WithStdContext(ctx context.Context) RequestOption {
	return func(r *Request) {
		r.stdctx = ctx
	}
}

// NewRequest normalizes raw transport input into a Request.
//
// body is the raw request body. query may be nil, a raw query string, a
// map[string]string, a map[string][]string, or url.Values. headers may be
// nil, a map[string]string, a map[string][]string, or http.Header. Transports
// disagree on cardinality, so both are always normalized to multi-valued
// maps with lower-cased header names.
//
// A malformed body is treated as an empty payload rather than an error;
// classification downstream simply matches nothing.
func NewRequest(body string, query, headers interface{}, opts ...RequestOption) (*Request, error) {
	q, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	h, err := normalizeHeaders(headers)
	if err != nil {
		return nil, err
	}

	r := &Request{
		RawBody:     body,
		Query:       q,
		Headers:     h,
		ContentType: extractContentType(h),
		Mode:        ModeHTTP,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Payload = parseBody(body, r.ContentType)
	r.Context = buildContext(r.Payload)
	return r, nil
}

// Ctx returns the transport's context.Context, defaulting to Background.
func (r *Request) Ctx() context.Context {
	if r.stdctx == nil {
		return context.Background()
	}
	return r.stdctx
}

// Header returns the first value of a header, looked up case-insensitively.
func (r *Request) Header(name string) string {
	vv := r.Headers[strings.ToLower(name)]
	if len(vv) == 0 {
		return ""
	}
	return vv[0]
}

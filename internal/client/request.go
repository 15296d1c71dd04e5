package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaproxy/internal/document"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// RequestOptions are the per-request settings. A nil *RequestOptions is
// a plain request.
type RequestOptions struct {
	Params url.Values
	Header http.Header
	Body   io.Reader

	// ParseBody runs the response body through the client's parser.
	ParseBody bool

	// Region pins the request to the endpoints of one region.
	Region gateway.Region
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Document is set when the body was parsed.
	Document *document.Document

	// Endpoint is the gateway that carried the request.
	Endpoint *gateway.Endpoint

	Duration time.Duration
}

// Call is a request in progress.
type Call struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed once the call has completed.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes and returns its result.
func (c *Call) Wait() (*Response, error) {
	<-c.done
	return c.resp, c.err
}

// Request sends a request through the next gateway and waits for the
// response. path is resolved against the configured base URL.
func (c *Client) Request(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	return c.dispatch(ctx, method, path, opts)
}

// RequestAsync is Request without blocking the caller.
func (c *Client) RequestAsync(ctx context.Context, method, path string, opts *RequestOptions) *Call {
	call := &Call{done: make(chan struct{})}
	go func() {
		defer close(call.done)
		call.resp, call.err = c.dispatch(ctx, method, path, opts)
	}()
	return call
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, opts)
}

// GetAsync sends a GET request without blocking the caller.
func (c *Client) GetAsync(ctx context.Context, path string, opts *RequestOptions) *Call {
	return c.RequestAsync(ctx, http.MethodGet, path, opts)
}

func (c *Client) dispatch(ctx context.Context, method, path string, opts *RequestOptions) (resp *Response, err error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	pool, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(pool)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, requestID := observability.EnsureRequestID(ctx)
	ctx, span := c.tracer.StartSpan(ctx, "client.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("avaproxy.request_id", requestID),
		),
	)
	defer func() { observability.EndSpan(span, err) }()

	var e *gateway.Endpoint
	if opts.Region != "" {
		e, err = c.router.SelectRegion(pool, opts.Region)
	} else {
		e, err = c.router.Select(pool)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("avaproxy.region", string(e.Region)),
		attribute.String("avaproxy.endpoint_id", e.ID),
	)

	req, err := c.newRequest(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}

	routed, err := c.router.Rewrite(req, e)
	if err != nil {
		return nil, err
	}

	logger := c.logger.WithContext(ctx)
	if c.cfg.Debug {
		logger.Debug("routing request",
			observability.String("method", method),
			observability.String("target", routed.Target.String()),
			observability.String("url", routed.Request.URL.String()),
			observability.String(observability.FieldRegion, string(e.Region)),
			observability.String(observability.FieldEndpointID, e.ID),
			observability.Any("headers", routed.Request.Header),
		)
	}

	start := time.Now()
	httpResp, err := c.sender.Send(routed.Request)
	if err != nil {
		c.metrics.RecordRequest(string(e.Region), "error", time.Since(start))
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	c.metrics.RecordRequest(string(e.Region), strconv.Itoa(httpResp.StatusCode), duration)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	resp = &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Endpoint:   e,
		Duration:   duration,
	}

	if opts.ParseBody {
		resp.Document, err = c.parser.Parse(body)
		if err != nil {
			return resp, err
		}
	}

	if c.cfg.Debug {
		logger.Debug("request completed",
			observability.Int("status", resp.StatusCode),
			observability.String(observability.FieldEndpointID, e.ID),
			observability.Duration("duration", duration),
		)
	}
	return resp, nil
}

// newRequest builds the request for path as if it were sent to the base
// URL directly.
func (c *Client) newRequest(ctx context.Context, method, path string, opts *RequestOptions) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}

	u := *c.target
	if ref.Path != "" {
		u.Path = strings.TrimRight(c.target.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
		u.RawPath = ""
	}
	query := u.Query()
	for k, vs := range ref.Query() {
		query[k] = append(query[k], vs...)
	}
	for k, vs := range opts.Params {
		query[k] = append(query[k], vs...)
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, method, u.String(), opts.Body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

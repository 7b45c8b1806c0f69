// Package httpclient issues single outbound HTTP requests on behalf of tool
// bindings and normalizes the result into the engine's closed error-kind
// taxonomy. It never retries; retry policy belongs to the executor.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
)

const defaultTimeout = 10 * time.Second

// Method is a restricted HTTP verb set the engine dispatches.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// Result is the normalized outcome of one request.
type Result struct {
	Status      int
	Headers     http.Header
	DecodedBody any
	RawBody     []byte
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient overrides the underlying *http.Client (tests inject one
// pointed at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTelemetry attaches a logger/tracer pair used around every request.
func WithTelemetry(logger telemetry.Logger, tracer telemetry.Tracer) Option {
	return func(c *Client) {
		c.logger = logger
		c.tracer = tracer
	}
}

// WithServiceRateLimit caps outbound requests to a given service at rps,
// with burst as the token-bucket capacity, so one failing downstream cannot
// starve the others.
func WithServiceRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiterRPS = rps
		c.limiterBurst = burst
	}
}

// Client issues outbound HTTP requests for tool bindings.
type Client struct {
	http         *http.Client
	timeout      time.Duration
	logger       telemetry.Logger
	tracer       telemetry.Tracer
	limiterRPS   float64
	limiterBurst int
	limiters     map[string]*rate.Limiter
}

// New constructs a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		timeout: defaultTimeout,
		logger:  telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiterRPS > 0 {
		c.limiters = map[string]*rate.Limiter{}
	}
	return c
}

func (c *Client) limiterFor(service string) *rate.Limiter {
	if c.limiters == nil {
		return nil
	}
	if l, ok := c.limiters[service]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(c.limiterRPS), c.limiterBurst)
	c.limiters[service] = l
	return l
}

// Request issues a single HTTP request. body is JSON-encoded when non-nil;
// method GET/DELETE with a non-nil body is a caller error (validation),
// since the engine forbids GET/DELETE-with-body at the boundary.
func (c *Client) Request(ctx context.Context, service string, method Method, url string, query map[string]string, headers map[string]string, body any) (*Result, error) {
	if body != nil && (method == MethodGet || method == MethodDelete) {
		return nil, errkind.New(errkind.Validation, "body not allowed on "+string(method)+" request")
	}

	if l := c.limiterFor(service); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, errkind.Wrap(errkind.ToolTimeout, "rate limiter wait", err)
		}
	}

	ctx, span := c.tracer.Start(ctx, "httpclient.Request")
	defer span.End()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeoutOrDefault())
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errkind.Wrap(errkind.Validation, "encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	fullURL := appendQuery(url, query)
	req, err := http.NewRequestWithContext(reqCtx, string(method), fullURL, reader)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			span.RecordError(err)
			c.logger.Warn(ctx, "tool call timed out", "service", service, "url", fullURL, "duration_ms", duration.Milliseconds())
			return nil, errkind.Wrap(errkind.ToolTimeout, "request timed out", err)
		}
		var dnsErr *net.DNSError
		var netErr net.Error
		if errors.As(err, &dnsErr) || errors.As(err, &netErr) {
			span.RecordError(err)
			c.logger.Warn(ctx, "tool call transport failure", "service", service, "url", fullURL, "error", err.Error())
			return nil, errkind.Wrap(errkind.ToolHTTP, "transport failure", err)
		}
		span.RecordError(err)
		return nil, errkind.Wrap(errkind.ToolHTTP, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.ToolHTTP, "read response body", err)
	}

	result := &Result{Status: resp.StatusCode, Headers: resp.Header, RawBody: raw}
	if isJSON(resp.Header.Get("Content-Type")) && len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			result.DecodedBody = decoded
		}
	}

	c.logger.Debug(ctx, "tool call completed", "service", service, "url", fullURL, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode >= 400 {
		return result, errkind.New(errkind.ToolNon2xx, "downstream returned "+resp.Status)
	}
	return result, nil
}

func (c *Client) timeoutOrDefault() time.Duration {
	if c.timeout <= 0 {
		return defaultTimeout
	}
	return c.timeout
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

func appendQuery(url string, query map[string]string) string {
	if len(query) == 0 {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(url)
	first := true
	for k, v := range query {
		if first {
			b.WriteString(sep)
			first = false
		} else {
			b.WriteString("&")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}

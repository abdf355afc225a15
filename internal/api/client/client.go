package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/resilience"
	"github.com/meridianhq/meridian-sync/internal/shared/id"
)

// Request describes one remote call. Path is joined to the client's base URL
// unless it is already absolute, so follow-up URLs handed out by the server
// (operation locations) can be passed through unchanged.
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    interface{}
}

// Response is the wire-level result of a remote call. Deferred and error
// statuses are values here, not Go errors.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// IsSuccess reports whether the status is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// Header returns the first value for key, or "".
func (r *Response) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decode response: empty body")
	}
	return sonic.Unmarshal(r.Body, v)
}

// Sender is implemented by anything that can execute a Request. Tests swap
// in scripted fakes; production wiring uses *Client.
type Sender interface {
	SendRequest(ctx context.Context, req Request) (*Response, error)
}

// TokenSource supplies the bearer token for outgoing calls. Returning an
// empty token sends the request unauthenticated.
type TokenSource func(ctx context.Context) (string, error)

// RequestHook observes completed round trips. Transport failures report
// status 0.
type RequestHook func(method string, status int, elapsed time.Duration)

// Client talks to the platform API through resty with a retryable transport,
// rate limiting, and circuit breaker protection.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *logging.Logger
	tokens  TokenSource
	hook    RequestHook

	mu sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithTokenSource sets the bearer token supplier.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) { c.tokens = src }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named("api") }
}

// WithRequestHook registers an observer for completed round trips.
func WithRequestHook(h RequestHook) Option {
	return func(c *Client) { c.hook = h }
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.resty.SetTimeout(d) }
}

// WithRetry configures transport-level retries. Retries only fire on
// transport failures, never on HTTP error statuses, so deferred and
// not-found responses pass through untouched.
func WithRetry(count int, minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.resty.SetRetryCount(count).
			SetRetryWaitTime(minWait).
			SetRetryMaxWaitTime(maxWait)
	}
}

// New creates a production-ready API client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(30*time.Second).
		SetHeader("User-Agent", "meridian-sync/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New("meridian-api", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Lenient: only transport failures count, and the platform is
			// allowed a bad stretch before we stop calling it.
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})

	c := &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: breaker,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendRequest executes req. The returned Response carries whatever status
// the server answered with; only transport failures, rate-limit context
// cancellation, and an open breaker produce errors.
func (c *Client) SendRequest(ctx context.Context, req Request) (*Response, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	requestID := id.NewRequestID()

	c.mu.RLock()
	r := c.resty.R().SetContext(ctx)
	c.mu.RUnlock()
	r.SetHeader("X-Request-Id", requestID.String())

	if c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		if token != "" {
			r.SetAuthToken(token)
		}
	}
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	for k, v := range req.Query {
		r.SetQueryParam(k, v)
	}
	if req.Body != nil {
		payload, err := sonic.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		r.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	raw, err := c.execute(r, req.Method, req.Path)
	if err != nil {
		c.logger.Warn("remote request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", requestID.String()),
			zap.Error(err))
		if c.hook != nil {
			c.hook(req.Method, 0, 0)
		}
		return nil, err
	}

	if c.hook != nil {
		c.hook(req.Method, raw.StatusCode(), raw.Time())
	}
	c.logger.Debug("remote request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", raw.StatusCode()),
		zap.Int64("duration_ms", raw.Time().Milliseconds()),
		zap.String("request_id", requestID.String()))

	return &Response{
		Status:  raw.StatusCode(),
		Headers: raw.Header(),
		Body:    raw.Body(),
	}, nil
}

// execute runs the request under breaker protection. Only transport errors
// count as breaker failures; HTTP error statuses are successful round trips.
func (c *Client) execute(r *resty.Request, method, url string) (*resty.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return r.Execute(method, url)
	})
	if err != nil {
		return nil, err
	}
	return result.(*resty.Response), nil
}

// SetHeader adds a default header to every outgoing request.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetHeader(key, value)
}

// BreakerState returns the circuit breaker state for status reporting.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// BreakerCounts returns circuit breaker statistics.
func (c *Client) BreakerCounts() resilience.Counts {
	return c.breaker.Counts()
}

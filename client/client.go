package client

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

type Option func(*HTTPClient)

// WithTokenProvider replaces the static token from the config.
func WithTokenProvider(tokens types.TokenProvider) Option {
	return func(c *HTTPClient) {
		c.tokens = tokens
	}
}

// WithBackoff sets the unit of the linear retry backoff.
func WithBackoff(step time.Duration) Option {
	return func(c *HTTPClient) {
		c.backoff = step
	}
}

func WithName(name string) Option {
	return func(c *HTTPClient) {
		c.name = name
	}
}

// HTTPClient talks to one backend. Every attempt runs in its own goroutine
// that owns the fasthttp request and response, so a caller that gives up
// on ctx never races with the transport.
type HTTPClient struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	metrics        types.MetricsManager
	name           string
	client         *fasthttp.Client
	baseURL        string
	config         *types.APIConfig
	tokens         types.TokenProvider
	circuitBreaker *CircuitBreaker
	state          atomic.Value
	backoff        time.Duration
}

func NewHTTPClient(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.APIConfig, opts ...Option) (*HTTPClient, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	if config.BaseURL == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "base url is empty")
	}

	clientCtx, cancel := context.WithCancel(ctx)

	client := &HTTPClient{
		ctx:     clientCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		name:    "autoglean",
		client: &fasthttp.Client{
			Name:                "autoglean-client",
			MaxIdleConnDuration: 90 * time.Second,
		},
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		config:  config,
		tokens:  types.StaticToken(config.Token),
		backoff: time.Second,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.circuitBreaker = NewCircuitBreaker(config.CircuitBreaker, logger, client.name)
	client.state.Store(StateRunning)

	return client, nil
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Call sends one logical request and returns the body of a 2xx reply. data
// may be nil, a []byte sent as is with opts.ContentType, or a value encoded
// as JSON. Non-2xx replies come back as *types.HTTPStatusError.
//
// Only GET, PUT and DELETE are retried. A POST that timed out may still have
// been executed by the server.
func (c *HTTPClient) Call(ctx context.Context, method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if !c.IsRunning() {
		return nil, 0, types.ErrClientNotInitialized
	}

	if opts == nil {
		opts = &types.CallOptions{}
	}

	body, contentType, err := encodeBody(data, opts.ContentType)
	if err != nil {
		return nil, 0, err
	}

	headers := make(map[string]string, len(opts.Headers)+2)
	for key, value := range opts.Headers {
		headers[key] = value
	}

	if opts.Auth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, 0, types.Wrap(types.ErrUnauthorized, err)
		}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}

	if _, ok := headers[utils.RequestIDHeader]; !ok {
		headers[utils.RequestIDHeader] = utils.NewRequestID()
	}

	timeout := c.config.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	retries := 0
	if isIdempotent(method) && !opts.NoRetry {
		retries = c.config.Retries
		if opts.Retry > 0 {
			retries = opts.Retry
		}
	}

	start := time.Now()
	in := &attemptInput{
		method:      method,
		path:        path,
		url:         c.baseURL + path,
		headers:     headers,
		body:        body,
		contentType: contentType,
		timeout:     timeout,
	}

	respBody, statusCode, err := c.executeWithRetries(ctx, in, retries)
	c.observe(method, statusCode, err, start)

	if err != nil {
		c.logger.Debug("Backend call failed",
			zap.String("service", c.name),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", headers[utils.RequestIDHeader]),
			zap.Int("status_code", statusCode),
			zap.Error(err))
	}

	return respBody, statusCode, err
}

func (c *HTTPClient) Close() {
	if !c.transitionClientState(StateRunning, StateStopping) {
		return
	}

	c.circuitBreaker.Stop()
	c.cancel()
	c.client.CloseIdleConnections()
	c.setClientState(StateStopped)

	c.logger.Debug("HTTP client closed",
		zap.String("service", c.name))
}

func (c *HTTPClient) IsRunning() bool {
	return c.getClientState() == StateRunning
}

func (c *HTTPClient) BreakerState() string {
	return c.circuitBreaker.State().String()
}

type attemptInput struct {
	method      string
	path        string
	url         string
	headers     map[string]string
	body        []byte
	contentType string
	timeout     time.Duration
}

type attemptResult struct {
	statusCode int
	body       []byte
	err        error
}

func (c *HTTPClient) executeWithRetries(ctx context.Context, in *attemptInput, maxRetries int) ([]byte, int, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !c.IsRunning() {
			return nil, 0, types.ErrClientNotInitialized
		}

		if !c.circuitBreaker.Allow() {
			return nil, 0, types.Errorf(types.ErrCircuitBreakerOpen, "service %s", c.name)
		}

		res := c.roundTrip(ctx, in)

		if IsSuccessfulResponse(res.statusCode, res.err) {
			c.circuitBreaker.RecordSuccess()
			return res.body, res.statusCode, nil
		}

		switch {
		case IsCircuitBreakerFailure(res.statusCode, res.err):
			c.circuitBreaker.RecordFailure()
		case res.err == nil:
			c.circuitBreaker.RecordSuccess()
		default:
			c.circuitBreaker.Release()
		}

		lastStatus = res.statusCode
		if res.err != nil {
			lastErr = res.err
		} else {
			lastErr = &types.HTTPStatusError{
				Method:     in.method,
				Path:       in.path,
				StatusCode: res.statusCode,
				Detail:     utils.ErrorDetail(res.body),
			}
		}

		if ctx.Err() != nil || attempt == maxRetries || !IsRetryableError(res.statusCode, res.err) {
			break
		}

		backoff := time.Duration(attempt+1) * c.backoff

		c.logger.Debug("Retrying request",
			zap.String("service", c.name),
			zap.String("method", in.method),
			zap.String("path", in.path),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		if err := c.sleep(ctx, backoff); err != nil {
			return nil, lastStatus, err
		}
	}

	return nil, lastStatus, lastErr
}

func (c *HTTPClient) roundTrip(ctx context.Context, in *attemptInput) attemptResult {
	done := make(chan attemptResult, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(in.url)
		req.Header.SetMethod(in.method)
		for key, value := range in.headers {
			req.Header.Set(key, value)
		}
		if in.body != nil {
			req.SetBody(in.body)
			req.Header.SetContentType(in.contentType)
		}

		var err error
		if in.timeout > 0 {
			err = c.client.DoTimeout(req, resp, in.timeout)
		} else {
			err = c.client.Do(req, resp)
		}

		if err != nil {
			done <- attemptResult{err: errors.WithStack(types.Wrap(types.ErrClientRequestFailed, err))}
			return
		}

		payload, err := resp.BodyUncompressed()
		if err != nil {
			done <- attemptResult{
				statusCode: resp.StatusCode(),
				err:        errors.WithStack(types.Wrap(types.ErrClientResponseInvalid, err)),
			}
			return
		}

		done <- attemptResult{
			statusCode: resp.StatusCode(),
			body:       append([]byte(nil), payload...),
		}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return attemptResult{err: ctx.Err()}
	case <-c.ctx.Done():
		return attemptResult{err: types.Errorf(types.ErrClientNotInitialized, "client %s shutting down", c.name)}
	}
}

func (c *HTTPClient) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return types.Errorf(types.ErrClientNotInitialized, "client %s shutting down during retry", c.name)
	}
}

func (c *HTTPClient) observe(method string, statusCode int, err error, start time.Time) {
	if c.metrics == nil {
		return
	}

	result := "ok"
	switch {
	case errors.Is(err, types.ErrCircuitBreakerOpen):
		result = "circuit_open"
	case err != nil && statusCode == 0:
		result = "transport_error"
	case err != nil:
		result = "http_error"
	}

	c.metrics.Counter("client_requests_total", map[string]string{
		"method": method,
		"status": strconv.Itoa(statusCode),
		"result": result,
	}).Inc()

	c.metrics.Histogram("client_request_duration_seconds", nil, map[string]string{
		"method": method,
	}).ObserveDuration(start)
}

func (c *HTTPClient) getClientState() State {
	return c.state.Load().(State)
}

func (c *HTTPClient) setClientState(newState State) bool {
	currentState := c.getClientState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *HTTPClient) transitionClientState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

func isIdempotent(method string) bool {
	switch method {
	case fasthttp.MethodGet, fasthttp.MethodPut, fasthttp.MethodDelete, fasthttp.MethodHead:
		return true
	default:
		return false
	}
}

func encodeBody(data interface{}, contentType string) ([]byte, string, error) {
	switch v := data.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return v, contentType, nil
	default:
		payload, err := utils.Marshal(v)
		if err != nil {
			return nil, "", types.WrapError(err, "failed to marshal request data")
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return payload, contentType, nil
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/driftmail/client-go/internal/apierrors"
)

// Default client configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultUserAgent  = "driftmail-client-go"
)

// maxErrorBodySize bounds how much of an error response body is read
// when building a StatusError.
const maxErrorBodySize = 64 * 1024

// Config holds the transport configuration.
type Config struct {
	// BaseURL is the service endpoint, e.g. "https://api.driftmail.io".
	BaseURL string
	// AuthToken is the bearer credential sent with every request.
	AuthToken string
	// UserAgent identifies the client. Defaults to DefaultUserAgent.
	UserAgent string
	// HTTPClient overrides the default HTTP client for non-stream calls.
	HTTPClient *http.Client
	// Timeout is the per-attempt deadline for non-stream calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retry attempts after the first.
	MaxRetries int
	// RetryBaseDelay is the initial backoff between retries.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff between retries.
	RetryMaxDelay time.Duration
	// Logger receives transport diagnostics. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Client is the HTTP transport for the Driftmail API. It owns retry
// policy, error classification, and request replay; callers hand it a
// context and get back classified errors.
type Client struct {
	baseURL    string
	authToken  string
	userAgent  string
	httpClient *http.Client
	// streamClient has no overall timeout so event streams can stay
	// open indefinitely; cancellation comes from the caller's context.
	streamClient *http.Client
	timeout      time.Duration
	retry        *RetryConfig
	log          *slog.Logger
}

// NewClient creates a transport from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("auth token is required")
	}

	c := &Client{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		log:       cfg.Logger,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}

	c.httpClient = cfg.HTTPClient
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.streamClient = &http.Client{Transport: c.httpClient.Transport}

	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		retry.MaxDelay = cfg.RetryMaxDelay
	}
	c.retry = retry

	return c, nil
}

// Request describes a single API exchange.
//
// The body may be supplied as Body (replayable bytes), GetBody (a
// producer invoked once per attempt), or BodyStream (a one-shot reader).
// A request carrying only BodyStream cannot be retried; if a retry
// would be needed the call fails with apierrors.ErrNonReplayableBody.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	Body       []byte
	GetBody    func() (io.Reader, error)
	BodyStream io.Reader
}

// Response is the outcome of a successful exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// idempotent reports whether a method may be retried after the request
// was observably sent.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// bodyFor returns the body reader for the given attempt, or an error if
// the body cannot be replayed.
func (r *Request) bodyFor(attempt int) (io.Reader, error) {
	switch {
	case r.Body != nil:
		return bytes.NewReader(r.Body), nil
	case r.GetBody != nil:
		body, err := r.GetBody()
		if err != nil {
			return nil, fmt.Errorf("regenerate request body: %w", err)
		}
		return body, nil
	case r.BodyStream != nil:
		if attempt > 0 {
			return nil, apierrors.ErrNonReplayableBody
		}
		return r.BodyStream, nil
	}
	return nil, nil
}

// replayable reports whether another attempt could be made with this body.
func (r *Request) replayable() bool {
	return r.BodyStream == nil || r.Body != nil || r.GetBody != nil
}

// Execute performs the exchange described by req, retrying transient
// failures within the configured budget. The caller's context is honored
// during connect, write, read, and retry sleeps; it is never replaced by
// an internal root context.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	for attempt := 0; ; attempt++ {
		resp, retryAfter, err := c.attempt(ctx, req, reqURL, attempt)
		if err == nil {
			return resp, nil
		}

		if !c.shouldRetry(req, attempt, err) {
			return nil, err
		}
		if !req.replayable() {
			// Err keeps the failure that provoked the retry so the
			// message reads "not replayable: <actual cause>".
			return nil, &apierrors.NetworkError{
				Err:     err,
				URL:     reqURL,
				Attempt: attempt,
				Kind:    apierrors.ErrNonReplayableBody,
			}
		}

		c.log.Debug("retrying request",
			"method", req.Method, "url", reqURL,
			"attempt", attempt+1, "error", err)

		if err := c.retry.Wait(ctx, attempt, retryAfter); err != nil {
			return nil, &apierrors.NetworkError{
				Err:     err,
				URL:     reqURL,
				Attempt: attempt,
				Kind:    apierrors.ErrCancelled,
			}
		}
	}
}

// shouldRetry decides whether err warrants another attempt.
func (c *Client) shouldRetry(req *Request, attempt int, err error) bool {
	if attempt >= c.retry.MaxRetries {
		return false
	}
	if errors.Is(err, apierrors.ErrCancelled) || errors.Is(err, apierrors.ErrNonReplayableBody) {
		return false
	}

	var netErr *attemptError
	if errors.As(err, &netErr) {
		// Network-level failure. Idempotent methods always retry;
		// others only when the request was never written to the wire.
		if errors.Is(err, apierrors.ErrNetwork) || errors.Is(err, apierrors.ErrTimeout) {
			return idempotent(req.Method) || !netErr.wrote
		}
		return false
	}

	var sErr *apierrors.StatusError
	if errors.As(err, &sErr) {
		return sErr.Transient() && idempotent(req.Method)
	}
	return false
}

// attemptError wraps a NetworkError with the wrote-request flag needed
// by the retry decision.
type attemptError struct {
	apierrors.NetworkError
	wrote bool
}

// attempt performs one HTTP exchange. On a 429 response the returned
// duration carries the server's Retry-After hint.
func (c *Client) attempt(ctx context.Context, req *Request, reqURL string, attempt int) (*Response, time.Duration, error) {
	body, err := req.bodyFor(attempt)
	if err != nil {
		if errors.Is(err, apierrors.ErrNonReplayableBody) {
			return nil, 0, &apierrors.NetworkError{
				Err: err, URL: reqURL, Attempt: attempt,
				Kind: apierrors.ErrNonReplayableBody,
			}
		}
		return nil, 0, err
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var wrote bool
	trace := &httptrace.ClientTrace{
		WroteHeaders: func() { wrote = true },
	}
	attemptCtx = httptrace.WithClientTrace(attemptCtx, trace)

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, reqURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(httpReq, req.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, &attemptError{
			NetworkError: apierrors.NetworkError{
				Err:     err,
				URL:     reqURL,
				Attempt: attempt,
				Kind:    classifyNetErr(ctx, err),
			},
			wrote: wrote,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		sErr := parseErrorResponse(resp)
		return nil, sErr.RetryAfter, sErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &attemptError{
			NetworkError: apierrors.NetworkError{
				Err:     err,
				URL:     reqURL,
				Attempt: attempt,
				Kind:    classifyNetErr(ctx, err),
			},
			wrote: wrote,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, 0, nil
}

func (c *Client) setHeaders(httpReq *http.Request, extra http.Header) {
	httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
}

// classifyNetErr maps a transport failure to its error kind. The
// caller's own cancellation takes precedence over a per-attempt
// deadline so a cancelled call reports Cancelled, not Timeout.
func classifyNetErr(callerCtx context.Context, err error) error {
	if callerCtx.Err() != nil {
		if errors.Is(callerCtx.Err(), context.DeadlineExceeded) {
			return apierrors.ErrTimeout
		}
		return apierrors.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return apierrors.ErrCancelled
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return apierrors.ErrTimeout
	}
	return apierrors.ErrNetwork
}

// parseErrorResponse builds a StatusError from a non-2xx response.
func parseErrorResponse(resp *http.Response) *apierrors.StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	sErr := &apierrors.StatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Error != "" || errResp.Message != "") {
		sErr.Message = errResp.Error
		if sErr.Message == "" {
			sErr.Message = errResp.Message
		}
		sErr.RequestID = errResp.RequestID
		return sErr
	}

	sErr.Message = string(body)
	return sErr
}

// parseRetryAfter interprets a Retry-After header as either a delay in
// seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Do performs a JSON request/response exchange over Execute.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	req := &Request{Method: method, Path: path}

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		req.Body = data
	}

	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return &apierrors.DecodeError{Op: "decode response", Err: err}
		}
	}
	return nil
}

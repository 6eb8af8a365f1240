package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/fileutil"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

const (
	defaultDelay           = time.Second
	defaultMaxRetries      = 3
	defaultBackoffBase     = time.Second
	defaultMaxBackoff      = 60 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultDownloadTimeout = 300 * time.Second
	defaultUserAgent       = "vrm-auto-scraper/dev"

	// ChunkSize is the buffer size used when streaming downloads to disk.
	ChunkSize = 8 * 1024
)

// Client is a rate-limited HTTP client owned by a single source.
type Client struct {
	name            string
	httpClient      *http.Client
	noRedirect      *http.Client
	limiter         *rate.Limiter
	delay           time.Duration
	maxRetries      int
	backoffBase     time.Duration
	maxBackoff      time.Duration
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	userAgent       string
	sleeper         func(context.Context, time.Duration) error
	logger          *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithDelay sets the minimum spacing between requests.
func WithDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.delay = delay
	}
}

// WithRetries sets how many retries follow the first attempt.
func WithRetries(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithBackoff overrides the retry backoff base and ceiling.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		if maxDelay > 0 {
			c.maxBackoff = maxDelay
		}
	}
}

// WithTimeouts sets the per-request and streamed download timeouts.
func WithTimeouts(request, download time.Duration) Option {
	return func(c *Client) {
		if request > 0 {
			c.requestTimeout = request
		}
		if download > 0 {
			c.downloadTimeout = download
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New constructs a client for the named source.
func New(name string, opts ...Option) *Client {
	c := &Client{
		name:            name,
		httpClient:      &http.Client{},
		delay:           defaultDelay,
		maxRetries:      defaultMaxRetries,
		backoffBase:     defaultBackoffBase,
		maxBackoff:      defaultMaxBackoff,
		requestTimeout:  defaultRequestTimeout,
		downloadTimeout: defaultDownloadTimeout,
		userAgent:       defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.backoffBase < 0 {
		c.backoffBase = 0
	}
	if c.sleeper == nil {
		c.sleeper = sleepContext
	}
	c.logger = logging.NewComponentLogger(c.logger, "http").With(logging.String(logging.FieldSource, name))

	limit := rate.Inf
	if c.delay > 0 {
		limit = rate.Every(c.delay)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.noRedirect = &noRedirect
	return c
}

// NewFromConfig constructs a client using the shared HTTP policy from cfg.
func NewFromConfig(name string, cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	base := []Option{
		WithDelay(cfg.RateLimitDelay()),
		WithRetries(cfg.HTTP.MaxRetries),
		WithBackoff(cfg.BackoffBase(), 0),
		WithTimeouts(cfg.RequestTimeout(), cfg.DownloadTimeout()),
		WithUserAgent(cfg.HTTP.UserAgent),
		WithLogger(logger),
	}
	return New(name, append(base, opts...)...)
}

// Name returns the source this client belongs to.
func (c *Client) Name() string {
	return c.name
}

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// NoRedirect returns 3xx responses instead of following them.
	NoRedirect bool
}

// Response is a fully read response body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do issues req with rate limiting and retries. Any response that is not a
// 429 or 5xx is returned as is, and the caller must close its body. When the
// retry budget runs out the last error is returned.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	return c.do(ctx, req, c.requestTimeout)
}

func (c *Client) do(ctx context.Context, req Request, timeout time.Duration) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	client := c.httpClient
	if req.NoRedirect {
		client = c.noRedirect
	}

	attempts := c.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		httpReq, err := c.newRequest(attemptCtx, method, req)
		if err != nil {
			cancel()
			return nil, err
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = services.Wrap(services.ErrTransient, c.name, method+" "+redact(req.URL), "transport failure", err)
			if !c.retryAfterWait(ctx, attempt, attempts, c.backoff(attempt), logging.Error(err)) {
				break
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		statusErr := newStatusError(resp, body)
		delay := c.backoff(attempt)
		marker := services.ErrTransient
		if resp.StatusCode == http.StatusTooManyRequests {
			marker = services.ErrRateLimited
			if statusErr.RetryAfter > 0 {
				delay = statusErr.RetryAfter
			}
		}
		lastErr = services.Wrap(marker, c.name, method+" "+redact(req.URL), "retry budget exhausted", statusErr)
		if !c.retryAfterWait(ctx, attempt, attempts, delay, logging.Int("status_code", resp.StatusCode)) {
			break
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, lastErr
}

func (c *Client) retryAfterWait(ctx context.Context, attempt, attempts int, delay time.Duration, cause logging.Attr) bool {
	if attempt+1 >= attempts {
		return false
	}
	c.logger.Debug("retrying request",
		logging.Int("attempt", attempt+1),
		logging.Int("max_attempts", attempts),
		logging.Duration("backoff", delay),
		cause,
	)
	return c.sleeper(ctx, delay) == nil
}

func (c *Client) newRequest(ctx context.Context, method string, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	return httpReq, nil
}

// backoff returns base * 2^attempt, capped.
func (c *Client) backoff(attempt int) time.Duration {
	if c.backoffBase <= 0 {
		return 0
	}
	delay := c.backoffBase
	for i := 0; i < attempt; i++ {
		if delay > c.maxBackoff/2 {
			return c.maxBackoff
		}
		delay *= 2
	}
	if delay > c.maxBackoff {
		return c.maxBackoff
	}
	return delay
}

// Get issues a GET and reads the body. Non-2xx responses return a *StatusError
// alongside the response.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.read(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// Post issues a POST with body and reads the response.
func (c *Client) Post(ctx context.Context, rawURL string, header http.Header, body []byte) (*Response, error) {
	return c.read(ctx, Request{Method: http.MethodPost, URL: rawURL, Header: header, Body: body})
}

// PostForm issues a form-encoded POST, as used by OAuth token endpoints.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values, header http.Header) (*Response, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.read(ctx, Request{Method: http.MethodPost, URL: rawURL, Header: h, Body: []byte(values.Encode())})
}

func (c *Client) read(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, c.name, "read body", redact(req.URL), err)
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, newStatusError(resp, body)
	}
	return out, nil
}

// StreamToFile downloads rawURL into dest in fixed-size chunks. The body is
// written to dest with a temp suffix and renamed only after a complete,
// synced write; the temp file is removed on failure.
func (c *Client) StreamToFile(ctx context.Context, rawURL, dest string, header http.Header) (int64, error) {
	resp, err := c.do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header}, c.downloadTimeout)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, services.Wrap(services.ErrDownload, c.name, "download", redact(rawURL), newStatusError(resp, body))
	}

	var written int64
	err = fileutil.WriteAtomic(dest, 0o644, func(w io.Writer) error {
		buf := make([]byte, ChunkSize)
		n, copyErr := io.CopyBuffer(w, onlyReader{resp.Body}, buf)
		written = n
		return copyErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, services.Wrap(services.ErrDownload, c.name, "download", redact(rawURL), err)
	}
	c.logger.Debug("download complete",
		logging.String("url", redact(rawURL)),
		logging.Int64("size_bytes", written),
	)
	return written, nil
}

// onlyReader hides WriterTo so CopyBuffer actually uses the chunk buffer.
type onlyReader struct {
	io.Reader
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// redact drops query strings, which may carry tokens, from logged URLs.
func redact(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}

// IsStatus reports whether err carries an HTTP status equal to code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

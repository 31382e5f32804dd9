// Package transport posts encoded call documents to the ERP over HTTP.
// It owns TLS, connection pooling, retry policy and client-side rate limiting.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/logger"
)

// Transport errors
var (
	// ErrRequestFailed is returned when the request could not be built or sent
	ErrRequestFailed = errors.New("transport: request failed")
	// ErrUnavailable is returned for 5xx and 429 responses
	ErrUnavailable = errors.New("transport: service unavailable")
	// ErrResponseTooLarge is returned when the body exceeds Config.MaxResponseBytes
	ErrResponseTooLarge = errors.New("transport: response too large")
)

// maxErrorBody bounds the body excerpt kept on a StatusError
const maxErrorBody = 512

// StatusError reports a non-2xx HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies server-side and throttling statuses as ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return ErrUnavailable
	}
	return ErrRequestFailed
}

// Config configures an HTTPTransport.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	TLSSkipVerify    bool
	Headers          map[string]string
	MaxResponseBytes int64
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// Tracing wraps the round tripper with otelhttp so the W3C trace context is propagated.
	Tracing bool
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	ShouldRetry func(resp *http.Response, err error) bool
}

// DefaultRetryConfig returns a configuration that never retries.
// Invoke calls can mutate remote state, so retries must be opted into.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  0,
		RetryDelay:  100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		ShouldRetry: retryUnavailable,
	}
}

// retryUnavailable retries network errors, 5xx and 429.
func retryUnavailable(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// HTTPTransport posts XML documents to paths under a base URL.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type HTTPTransport struct {
	httpClient       *http.Client
	baseURL          *url.URL
	headers          map[string]string
	maxResponseBytes int64
	retryConfig      RetryConfig
	limiter          *rate.Limiter
	logger           *zap.Logger
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithRetry overrides the retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(t *HTTPTransport) {
		if cfg.ShouldRetry == nil {
			cfg.ShouldRetry = retryUnavailable
		}
		if cfg.Multiplier <= 0 {
			cfg.Multiplier = 2.0
		}
		t.retryConfig = cfg
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		t.httpClient = c
	}
}

// New creates an HTTPTransport for the given configuration.
func New(cfg Config, opts ...Option) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrRequestFailed)
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", ErrRequestFailed, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported URL scheme %q", ErrRequestFailed, baseURL.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 32 << 20
	}

	var roundTripper http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.Tracing {
		roundTripper = otelhttp.NewTransport(roundTripper)
	}

	t := &HTTPTransport{
		httpClient: &http.Client{
			Transport: roundTripper,
			Timeout:   cfg.Timeout,
		},
		baseURL:          baseURL,
		headers:          make(map[string]string),
		maxResponseBytes: cfg.MaxResponseBytes,
		retryConfig:      DefaultRetryConfig(),
		logger:           zap.NewNop(),
	}

	t.headers["Content-Type"] = "text/xml; charset=utf-8"
	t.headers["Accept"] = "text/xml"
	t.headers["User-Agent"] = "erprpc/1.0"
	for k, v := range cfg.Headers {
		t.headers[k] = v
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Post sends body to path and returns the response body of a 2xx reply.
func (t *HTTPTransport) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	u := t.buildURL(path)

	var lastErr error
	for attempt := 0; attempt <= t.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := t.calculateBackoff(attempt)
			logger.FromContext(ctx, t.logger).Info("retrying request",
				zap.String("url", u),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
			case <-timer.C:
			}
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limit: %w", ErrRequestFailed, err)
			}
		}

		respBody, resp, err := t.do(ctx, u, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if attempt < t.retryConfig.MaxRetries && t.retryConfig.ShouldRetry(resp, transportCause(resp, err)) {
			continue
		}
		break
	}

	return nil, lastErr
}

// transportCause returns the network error to hand to ShouldRetry, nil when a response arrived.
func transportCause(resp *http.Response, err error) error {
	if resp != nil {
		return nil
	}
	return err
}

// do performs one attempt.
func (t *HTTPTransport) do(ctx context.Context, u string, body []byte) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating HTTP request: %v", ErrRequestFailed, err)
	}
	t.setHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	// Read one byte past the limit to detect oversize bodies
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseBytes+1))
	if err != nil {
		return nil, resp, fmt.Errorf("%w: reading response body: %w", ErrUnavailable, err)
	}
	if int64(len(data)) > t.maxResponseBytes {
		return nil, resp, fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, t.maxResponseBytes)
	}

	return data, resp, nil
}

// buildURL resolves path against the base URL, keeping any base path prefix.
func (t *HTTPTransport) buildURL(path string) string {
	u := *t.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	return u.String()
}

// setHeaders sets the default headers on the request.
func (t *HTTPTransport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

// calculateBackoff calculates the backoff delay for the given attempt.
func (t *HTTPTransport) calculateBackoff(attempt int) time.Duration {
	delay := float64(t.retryConfig.RetryDelay) * math.Pow(t.retryConfig.Multiplier, float64(attempt-1))
	if t.retryConfig.MaxDelay > 0 && delay > float64(t.retryConfig.MaxDelay) {
		delay = float64(t.retryConfig.MaxDelay)
	}
	// Add jitter (+/-25%)
	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter
	return time.Duration(delay)
}

// BaseURL returns the transport's base URL.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL.String()
}

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const defaultRetryAfter = 60 * time.Second

// Request describes one call against the signing provider.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body returns a fresh reader per attempt so a retried request resends
	// the full payload.
	Body func() (io.Reader, error)
}

// Response is a successful (2xx) provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// TransportOptions tunes the retry/backoff/timeout policy.
type TransportOptions struct {
	MaxAttempts int
	// BaseTimeout bounds the first attempt; each retry gets TimeoutStep more,
	// tolerating large payload uploads that a fixed timeout would starve.
	BaseTimeout time.Duration
	TimeoutStep time.Duration
	BaseBackoff time.Duration
	MaxJitter   time.Duration
}

func (o *TransportOptions) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseTimeout <= 0 {
		o.BaseTimeout = 30 * time.Second
	}
	if o.TimeoutStep < 0 {
		o.TimeoutStep = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxJitter < 0 {
		o.MaxJitter = 0
	}
}

// Transport executes provider requests with bounded retries.
//
// Retry policy: connection-level failures and 5xx responses are retried up to
// MaxAttempts with exponential backoff plus random jitter. A 429 is never
// retried; it is surfaced immediately as *RateLimitError so callers can
// record the embargo and fail fast instead of burning attempts. Exhausted
// retryable failures are tagged via Exhausted on the returned error.
type Transport struct {
	httpClient *http.Client
	opts       TransportOptions
	logger     *slog.Logger

	// sleep is injectable for tests; it must honor ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTransport creates a Transport. A nil httpClient gets a default client;
// per-attempt deadlines come from the options, not the client.
func NewTransport(logger *slog.Logger, httpClient *http.Client, opts TransportOptions) *Transport {
	opts.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Transport{
		httpClient: httpClient,
		opts:       opts,
		logger:     logger.With("component", "provider_transport"),
		sleep:      sleepCtx,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the request through the retry policy. It returns the response
// on any 2xx, *RateLimitError on 429, *ProviderError on other non-2xx, and
// *NetworkError on connection-level failures.
func (t *Transport) Execute(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < t.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, &NetworkError{Err: err}
		}

		if attempt > 0 {
			delay := t.backoffDelay(attempt)
			t.logger.DebugContext(ctx, "Backing off before retry",
				"attempt", attempt, "delay", delay, "url", req.URL)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		resp, err := t.attempt(ctx, req, attempt)
		if err == nil {
			return resp, nil
		}

		var retryable bool
		lastErr, retryable = classify(err)
		if !retryable {
			return nil, lastErr
		}
		t.logger.WarnContext(ctx, "Provider request attempt failed",
			"attempt", attempt+1, "max_attempts", t.opts.MaxAttempts,
			"url", req.URL, "error", lastErr)
	}

	return nil, markExhausted(lastErr)
}

// attempt performs a single bounded HTTP exchange.
func (t *Transport) attempt(ctx context.Context, req *Request, attempt int) (*Response, error) {
	timeout := t.opts.BaseTimeout + time.Duration(attempt)*t.opts.TimeoutStep
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		var err error
		body, err = req.Body()
		if err != nil {
			return nil, fmt.Errorf("building request body: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("reading response body (status %d): %w", httpResp.StatusCode, err)}
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"))}
	default:
		return nil, &ProviderError{StatusCode: httpResp.StatusCode, Body: truncateBody(respBody)}
	}
}

// classify decides whether an attempt error is retryable and normalizes it.
func classify(err error) (error, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr, false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr, provErr.StatusCode >= 500
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr, true
	}
	return err, false
}

func markExhausted(err error) error {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{Err: netErr.Err, Exhausted: true}
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return &ProviderError{StatusCode: provErr.StatusCode, Body: provErr.Body, Exhausted: true}
	}
	return err
}

func (t *Transport) backoffDelay(attempt int) time.Duration {
	delay := t.opts.BaseBackoff << (attempt - 1)
	if t.opts.MaxJitter > 0 {
		t.mu.Lock()
		jitter := time.Duration(t.rng.Int63n(int64(t.opts.MaxJitter)))
		t.mu.Unlock()
		delay += jitter
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func truncateBody(body []byte) string {
	const maxLen = 512
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > maxLen {
		return string(trimmed[:maxLen]) + "..."
	}
	return string(trimmed)
}

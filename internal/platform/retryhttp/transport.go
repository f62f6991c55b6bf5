package retryhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	jitterWindow      = 500 * time.Millisecond
)

// Transport is an http.RoundTripper that retries transient failures with
// exponential backoff. Only network errors, 429 and 5xx responses are
// retried; other 4xx statuses are returned immediately since retrying a
// rejected request cannot change the outcome.
type Transport struct {
	next       http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func(window time.Duration) time.Duration
}

// Option customises the Transport.
type Option func(*Transport)

// WithMaxRetries sets how many retries follow the initial attempt.
func WithMaxRetries(n int) Option {
	return func(t *Transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; each retry doubles it.
func WithBaseDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.baseDelay = d
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// withSleep overrides the backoff sleeper (tests only).
func withSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(t *Transport) {
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// withJitter overrides jitter generation (tests only).
func withJitter(jitter func(time.Duration) time.Duration) Option {
	return func(t *Transport) {
		if jitter != nil {
			t.jitter = jitter
		}
	}
}

// New wraps next with retry behaviour. A nil next uses http.DefaultTransport.
func New(next http.RoundTripper, opts ...Option) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &Transport{
		next:       next,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		logger:     zap.NewNop(),
		sleep:      sleepContext,
		jitter: func(window time.Duration) time.Duration {
			if window <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(window)))
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Client returns an *http.Client using this transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request; retries replace
	// the body, so work on a clone.
	req = req.Clone(req.Context())

	var lastErr error

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.backoff(attempt - 1)
			t.logger.Debug("retryhttp: backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("url", req.URL.String()),
			)
			if err := t.sleep(req.Context(), delay); err != nil {
				return nil, err
			}
			if req.Body != nil {
				if req.GetBody == nil {
					return nil, fmt.Errorf("retryhttp: request body cannot be replayed: %w", lastErr)
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("retryhttp: rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := t.next.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == t.maxRetries {
			return resp, nil
		}

		lastErr = fmt.Errorf("retryhttp: status %d from %s", resp.StatusCode, req.URL.Host)
		drain(resp)
	}

	if lastErr == nil {
		lastErr = errors.New("retryhttp: retries exhausted")
	}
	return nil, lastErr
}

// backoff computes base*2^k plus random jitter below half a second.
func (t *Transport) backoff(k int) time.Duration {
	delay := t.baseDelay << k
	return delay + t.jitter(jitterWindow)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package retryhttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type scriptedTripper struct {
	responses []response
	calls     int
	bodies    []string
}

type response struct {
	status int
	err    error
}

func (s *scriptedTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(data))
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	r := s.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     http.Header{},
	}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(http.MethodPost, "https://api.example/v1/generate", reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	next := &scriptedTripper{responses: []response{
		{status: http.StatusServiceUnavailable},
		{status: http.StatusInternalServerError},
		{status: http.StatusOK},
	}}
	transport := New(next, WithMaxRetries(3), withSleep(noSleep))

	resp, err := transport.RoundTrip(newRequest(t, ""))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	next := &scriptedTripper{responses: []response{
		{status: http.StatusBadRequest},
	}}
	transport := New(next, WithMaxRetries(3), withSleep(noSleep))

	resp, err := transport.RoundTrip(newRequest(t, ""))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 passthrough, got %d", resp.StatusCode)
	}
	if next.calls != 1 {
		t.Fatalf("4xx must not retry, got %d attempts", next.calls)
	}
}

func TestRetriesTooManyRequests(t *testing.T) {
	next := &scriptedTripper{responses: []response{
		{status: http.StatusTooManyRequests},
		{status: http.StatusOK},
	}}
	transport := New(next, WithMaxRetries(2), withSleep(noSleep))

	resp, err := transport.RoundTrip(newRequest(t, ""))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()
	if next.calls != 2 {
		t.Fatalf("expected retry after 429, got %d attempts", next.calls)
	}
}

func TestRetriesNetworkErrors(t *testing.T) {
	netErr := errors.New("connection reset")
	next := &scriptedTripper{responses: []response{
		{err: netErr},
		{err: netErr},
		{status: http.StatusOK},
	}}
	transport := New(next, WithMaxRetries(2), withSleep(noSleep))

	resp, err := transport.RoundTrip(newRequest(t, ""))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()
	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
}

func TestAttemptCountBoundedByMaxRetries(t *testing.T) {
	netErr := errors.New("connection refused")
	next := &scriptedTripper{responses: []response{{err: netErr}}}
	transport := New(next, WithMaxRetries(2), withSleep(noSleep))

	if _, err := transport.RoundTrip(newRequest(t, "")); !errors.Is(err, netErr) {
		t.Fatalf("expected final network error, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected maxRetries+1=3 attempts, got %d", next.calls)
	}
}

func TestBodyReplayedOnRetry(t *testing.T) {
	next := &scriptedTripper{responses: []response{
		{status: http.StatusBadGateway},
		{status: http.StatusOK},
	}}
	transport := New(next, WithMaxRetries(1), withSleep(noSleep))

	resp, err := transport.RoundTrip(newRequest(t, `{"prompt":"fox"}`))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()

	if len(next.bodies) != 2 {
		t.Fatalf("expected body on both attempts, got %d", len(next.bodies))
	}
	for i, body := range next.bodies {
		if body != `{"prompt":"fox"}` {
			t.Fatalf("attempt %d saw body %q", i, body)
		}
	}
}

func TestCallerRequestNotMutated(t *testing.T) {
	next := &scriptedTripper{responses: []response{
		{status: http.StatusBadGateway},
		{status: http.StatusOK},
	}}
	transport := New(next, WithMaxRetries(1), withSleep(noSleep))

	req := newRequest(t, `{"prompt":"fox"}`)
	origBody := req.Body

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()

	if req.Body != origBody {
		t.Fatal("retries must not reassign the caller's request body")
	}
}

func TestBackoffBounds(t *testing.T) {
	transport := New(nil, WithBaseDelay(100*time.Millisecond))

	for k := range 4 {
		base := 100 * time.Millisecond << k
		for range 50 {
			d := transport.backoff(k)
			if d < base || d >= base+jitterWindow {
				t.Fatalf("backoff(%d)=%s outside [%s, %s)", k, d, base, base+jitterWindow)
			}
		}
	}
}

func TestBackoffSequenceDoubles(t *testing.T) {
	transport := New(nil, WithBaseDelay(time.Second), withJitter(func(time.Duration) time.Duration { return 0 }))

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for k, expected := range want {
		if got := transport.backoff(k); got != expected {
			t.Fatalf("backoff(%d)=%s, want %s", k, got, expected)
		}
	}
}

func TestSleepCancellation(t *testing.T) {
	next := &scriptedTripper{responses: []response{{status: http.StatusBadGateway}}}
	transport := New(next, WithMaxRetries(5), WithBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	req := newRequest(t, "").WithContext(ctx)
	cancel()

	if _, err := transport.RoundTrip(req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

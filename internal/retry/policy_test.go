package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/routegrid/gateway/internal/circuitbreaker"
	"github.com/routegrid/gateway/internal/config"
	gwerrors "github.com/routegrid/gateway/internal/errors"
)

func fastSpec(retries int) *Spec {
	return NewSpec(config.FilterConfig{
		Name:    config.FilterRetry,
		Retries: retries,
		Backoff: config.BackoffConfig{First: time.Millisecond, Max: 5 * time.Millisecond},
	})
}

func respWithStatus(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestRetriesExhaustedAfterConfiguredAttempts(t *testing.T) {
	spec := fastSpec(3)
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return respWithStatus(503), nil
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	resp, retries, err := spec.Execute(context.Background(), nil, req, call)
	if resp != nil {
		t.Fatal("expected no response after exhaustion")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 1 initial + 3 retries", calls)
	}
	if retries != 3 {
		t.Errorf("retries = %d, want 3", retries)
	}
	ge, ok := gwerrors.IsGatewayError(err)
	if !ok {
		t.Fatalf("error %v is not a gateway error", err)
	}
	if ge.Kind != gwerrors.KindUpstream || ge.Code != 503 {
		t.Errorf("got kind=%v code=%d, want upstream/503", ge.Kind, ge.Code)
	}
	if got := spec.Metrics.Snapshot(); got.Retries != 3 || got.Failures != 1 {
		t.Errorf("metrics = %+v", got)
	}
}

func TestSuccessStopsRetrying(t *testing.T) {
	spec := fastSpec(3)
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return respWithStatus(503), nil
		}
		return respWithStatus(200), nil
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	resp, retries, err := spec.Execute(context.Background(), nil, req, call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}
}

func TestNonRetryableMethodNeverRetried(t *testing.T) {
	spec := fastSpec(3)
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return respWithStatus(503), nil
	}

	req, _ := http.NewRequest("PUT", "http://up/api", nil)
	resp, _, err := spec.Execute(context.Background(), nil, req, call)
	if err != nil {
		t.Fatalf("non-retryable method returns the response as-is: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want the upstream 503 passed through", resp.StatusCode)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want exactly one attempt for PUT", calls)
	}
}

func TestNonRetryableStatusPassedThrough(t *testing.T) {
	spec := fastSpec(3)
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return respWithStatus(500), nil
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	resp, _, err := spec.Execute(context.Background(), nil, req, call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 500 || calls != 1 {
		t.Errorf("status=%d calls=%d, want 500 after one attempt", resp.StatusCode, calls)
	}
}

func TestBreakerOpenShortCircuits(t *testing.T) {
	br := circuitbreaker.New(config.BreakerConfig{
		Name:                 "t",
		SlidingWindowSize:    2,
		MinimumCalls:         2,
		FailureRateThreshold: 50,
		WaitDurationOpen:     time.Hour,
	})
	br.OnFailure(time.Millisecond)
	br.OnFailure(time.Millisecond)
	if br.State() != circuitbreaker.StateOpen {
		t.Fatal("breaker should be open")
	}

	spec := fastSpec(3)
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return respWithStatus(200), nil
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	_, _, err := spec.Execute(context.Background(), br, req, call)
	if calls != 0 {
		t.Errorf("calls = %d, want 0 when the breaker rejects", calls)
	}
	ge, ok := gwerrors.IsGatewayError(err)
	if !ok || ge.Kind != gwerrors.KindBreakerOpen {
		t.Errorf("got %v, want breaker-open gateway error", err)
	}
}

func TestBreakerSeesEveryAttemptOutcome(t *testing.T) {
	br := circuitbreaker.New(config.BreakerConfig{
		Name:                 "t",
		SlidingWindowSize:    10,
		MinimumCalls:         10,
		FailureRateThreshold: 99,
		FailureStatuses:      []int{503},
	})

	spec := fastSpec(2)
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return respWithStatus(503), nil
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	spec.Execute(context.Background(), br, req, call)

	snap := br.Snapshot()
	if snap.BufferedCalls != 3 {
		t.Errorf("breaker saw %d outcomes, want one per attempt", snap.BufferedCalls)
	}
	if snap.TotalFailures != 3 {
		t.Errorf("totalFailures = %d, want 3", snap.TotalFailures)
	}
}

func TestTransportErrorClassifiedAndRetried(t *testing.T) {
	spec := fastSpec(2)
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	_, _, err := spec.Execute(context.Background(), nil, req, call)
	if calls != 3 {
		t.Errorf("calls = %d, want transport errors retried", calls)
	}
	ge, ok := gwerrors.IsGatewayError(err)
	if !ok || ge.Kind != gwerrors.KindUpstream {
		t.Errorf("got %v, want upstream gateway error", err)
	}
}

func TestDeadlineClassifiedAsTimeout(t *testing.T) {
	spec := NoRetry()
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	_, _, err := spec.Execute(context.Background(), nil, req, call)
	ge, ok := gwerrors.IsGatewayError(err)
	if !ok || ge.Kind != gwerrors.KindTimeout || ge.Code != http.StatusRequestTimeout {
		t.Errorf("got %v, want timeout/408", err)
	}
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	spec := NewSpec(config.FilterConfig{
		Name:    config.FilterRetry,
		Retries: 2,
		Backoff: config.BackoffConfig{First: time.Hour, Max: time.Hour},
	})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		cancel()
		return respWithStatus(503), nil
	}

	req, _ := http.NewRequest("GET", "http://up/api", nil)
	_, _, err := spec.Execute(ctx, nil, req, call)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want backoff wait interrupted before the second attempt", calls)
	}
}

func TestFixedBackoffProgression(t *testing.T) {
	s := &Spec{FirstBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Factor: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{6, time.Second},
	}
	for _, tt := range tests {
		if got := s.fixedBackoff(tt.attempt); got != tt.want {
			t.Errorf("fixedBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNewSpecDefaults(t *testing.T) {
	s := NewSpec(config.FilterConfig{Name: config.FilterRetry, Retries: 3})

	if s.FirstBackoff != 100*time.Millisecond || s.MaxBackoff != 10*time.Second || s.Factor != 2 {
		t.Errorf("backoff defaults wrong: %+v", s)
	}
	for _, code := range []int{502, 503, 504} {
		if !s.RetryableStatuses[code] {
			t.Errorf("status %d should default retryable", code)
		}
	}
	if s.RetryableStatuses[500] {
		t.Error("500 should not default retryable")
	}
	for _, m := range []string{"GET", "HEAD", "OPTIONS"} {
		if !s.RetryableMethods[m] {
			t.Errorf("method %s should default retryable", m)
		}
	}
	if s.RetryableMethods["POST"] {
		t.Error("POST should not default retryable")
	}
}

func TestBodyRewoundBetweenAttempts(t *testing.T) {
	spec := NewSpec(config.FilterConfig{
		Name:    config.FilterRetry,
		Retries: 1,
		Methods: []string{"POST"},
		Backoff: config.BackoffConfig{First: time.Millisecond},
	})

	var bodies []string
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		bodies = append(bodies, string(b))
		return respWithStatus(503), nil
	}

	req, _ := http.NewRequest("POST", "http://up/api", strings.NewReader("payload"))
	spec.Execute(context.Background(), nil, req, call)

	if len(bodies) != 2 {
		t.Fatalf("attempts = %d, want 2", len(bodies))
	}
	if bodies[0] != "payload" || bodies[1] != "payload" {
		t.Errorf("bodies = %q, want the payload readable on both attempts", bodies)
	}
}

func TestNonRewindableBodyNotRetried(t *testing.T) {
	spec := NewSpec(config.FilterConfig{
		Name:    config.FilterRetry,
		Retries: 3,
		Methods: []string{"POST"},
		Backoff: config.BackoffConfig{First: time.Millisecond},
	})

	calls := 0
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		io.ReadAll(req.Body)
		return respWithStatus(503), nil
	}

	// A server-side inbound body: readable once, no GetBody.
	req, _ := http.NewRequest("POST", "http://up/api", nil)
	req.Body = io.NopCloser(strings.NewReader("payload"))
	req.GetBody = nil

	resp, retries, err := spec.Execute(context.Background(), nil, req, call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 503 || calls != 1 || retries != 0 {
		t.Errorf("status=%d calls=%d retries=%d, want one attempt with the body consumed once",
			resp.StatusCode, calls, retries)
	}
}

func TestRetryCountIsPerCall(t *testing.T) {
	// The shared metrics accumulate across calls; the returned count must not.
	spec := fastSpec(2)
	call := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return respWithStatus(503), nil
	}

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("GET", "http://up/api", nil)
		_, retries, _ := spec.Execute(context.Background(), nil, req, call)
		if retries != 2 {
			t.Fatalf("call %d: retries = %d, want 2 regardless of earlier calls", i, retries)
		}
	}
	if got := spec.Metrics.Snapshot().Retries; got != 6 {
		t.Errorf("cumulative retries = %d, want 6", got)
	}
}

package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/routegrid/gateway/internal/circuitbreaker"
	"github.com/routegrid/gateway/internal/config"
	gwerrors "github.com/routegrid/gateway/internal/errors"
)

// DefaultRetryableStatuses are HTTP status codes that trigger a retry
var DefaultRetryableStatuses = []int{502, 503, 504}

// DefaultRetryableMethods are HTTP methods safe to retry
var DefaultRetryableMethods = []string{"GET", "HEAD", "OPTIONS"}

// Spec is a route's compiled retry policy.
type Spec struct {
	Retries           int
	RetryableStatuses map[int]bool
	RetryableMethods  map[string]bool
	FirstBackoff      time.Duration
	MaxBackoff        time.Duration
	Factor            float64
	BasedOnPrevious   bool
	Metrics           *Metrics
}

// Metrics tracks retry statistics for a route
type Metrics struct {
	Requests  atomic.Int64
	Retries   atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of retry metrics
type MetricsSnapshot struct {
	Requests  int64 `json:"requests"`
	Retries   int64 `json:"retries"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// Snapshot returns a point-in-time copy of the metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:  m.Requests.Load(),
		Retries:   m.Retries.Load(),
		Successes: m.Successes.Load(),
		Failures:  m.Failures.Load(),
	}
}

// NewSpec compiles a Retry filter config into a Spec, applying defaults.
func NewSpec(f config.FilterConfig) *Spec {
	s := &Spec{
		Retries:         f.Retries,
		FirstBackoff:    f.Backoff.First,
		MaxBackoff:      f.Backoff.Max,
		Factor:          f.Backoff.Factor,
		BasedOnPrevious: f.Backoff.BasedOnPrevious,
		Metrics:         &Metrics{},
	}

	if s.FirstBackoff == 0 {
		s.FirstBackoff = 100 * time.Millisecond
	}
	if s.MaxBackoff == 0 {
		s.MaxBackoff = 10 * time.Second
	}
	if s.Factor == 0 {
		s.Factor = 2.0
	}

	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	s.RetryableStatuses = make(map[int]bool, len(statuses))
	for _, c := range statuses {
		s.RetryableStatuses[c] = true
	}

	methods := f.Methods
	if len(methods) == 0 {
		methods = DefaultRetryableMethods
	}
	s.RetryableMethods = make(map[string]bool, len(methods))
	for _, m := range methods {
		s.RetryableMethods[m] = true
	}

	return s
}

// NoRetry is the policy for routes without a Retry filter: a single attempt.
func NoRetry() *Spec {
	return &Spec{
		RetryableStatuses: map[int]bool{},
		RetryableMethods:  map[string]bool{},
		Metrics:           &Metrics{},
	}
}

// CallFunc performs one upstream attempt.
type CallFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Execute runs the upstream call under the retry policy, acquiring a breaker
// permit before every attempt. It returns the number of retries this call
// performed, so callers can attribute them without reading the shared
// metrics. The returned error, when non-nil, is a *errors.GatewayError whose
// kind tells the caller which fallback reason applies; any *http.Response
// returned with a nil error is the caller's to pass through.
func (s *Spec) Execute(ctx context.Context, br *circuitbreaker.Breaker, req *http.Request, call CallFunc) (*http.Response, int, error) {
	s.Metrics.Requests.Add(1)

	// Method retryability is fixed per route and evaluated once. A body that
	// cannot be rewound disqualifies the request regardless of method.
	retryable := s.RetryableMethods[req.Method]
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		retryable = false
	}

	var (
		retries int
		lastErr error
		bo      *backoff.ExponentialBackOff
	)

	if s.BasedOnPrevious {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = s.FirstBackoff
		bo.MaxInterval = s.MaxBackoff
		bo.Multiplier = s.Factor
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0
		bo.Reset()
	}

	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			retries++
			s.Metrics.Retries.Add(1)

			var wait time.Duration
			if bo != nil {
				wait = bo.NextBackOff()
			} else {
				wait = s.fixedBackoff(attempt)
			}

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				s.Metrics.Failures.Add(1)
				return nil, retries, classifyErr(ctx.Err())
			case <-t.C:
			}

			// Rewind the body for the next attempt.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					s.Metrics.Failures.Add(1)
					return nil, retries, gwerrors.WrapKind(err, gwerrors.KindUpstream, http.StatusBadGateway, "failed to rewind request body")
				}
				req.Body = body
			}
		}

		if br != nil && !br.TryAcquire() {
			s.Metrics.Failures.Add(1)
			return nil, retries, gwerrors.NewKind(gwerrors.KindBreakerOpen, http.StatusServiceUnavailable, "circuit breaker open")
		}

		start := time.Now()
		resp, err := call(ctx, req)
		duration := time.Since(start)

		if err != nil {
			if br != nil {
				br.OnFailure(duration)
			}
			lastErr = classifyErr(err)
			if !retryable || attempt == s.Retries {
				s.Metrics.Failures.Add(1)
				return nil, retries, lastErr
			}
			continue
		}

		// Report the outcome to the breaker on every attempt, whether or not
		// the status ends up being retried.
		if br != nil {
			if br.IsFailureStatus(resp.StatusCode) {
				br.OnFailure(duration)
			} else {
				br.OnSuccess(duration)
			}
		}

		if !retryable || !s.RetryableStatuses[resp.StatusCode] {
			s.Metrics.Successes.Add(1)
			return resp, retries, nil
		}

		resp.Body.Close()
		lastErr = gwerrors.NewKind(gwerrors.KindUpstream, http.StatusServiceUnavailable, "retries exhausted")
	}

	s.Metrics.Failures.Add(1)
	if lastErr == nil {
		lastErr = gwerrors.NewKind(gwerrors.KindUpstream, http.StatusServiceUnavailable, "retries exhausted")
	}
	return nil, retries, lastErr
}

// fixedBackoff computes first * factor^(attempt-1), capped at max.
func (s *Spec) fixedBackoff(attempt int) time.Duration {
	d := float64(s.FirstBackoff) * math.Pow(s.Factor, float64(attempt-1))
	if d > float64(s.MaxBackoff) {
		d = float64(s.MaxBackoff)
	}
	return time.Duration(d)
}

// classifyErr maps transport errors onto the gateway taxonomy: deadline and
// net timeouts become timeout errors, everything else an upstream failure.
func classifyErr(err error) error {
	if ge, ok := gwerrors.IsGatewayError(err); ok {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gwerrors.WrapKind(err, gwerrors.KindTimeout, http.StatusRequestTimeout, "upstream timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gwerrors.WrapKind(err, gwerrors.KindTimeout, http.StatusRequestTimeout, "upstream timeout")
	}
	if errors.Is(err, context.Canceled) {
		return gwerrors.WrapKind(err, gwerrors.KindUpstream, 499, "client disconnected")
	}
	return gwerrors.WrapKind(err, gwerrors.KindUpstream, http.StatusServiceUnavailable, "upstream connection failure")
}

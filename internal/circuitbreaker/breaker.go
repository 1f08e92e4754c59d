package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/routegrid/gateway/internal/config"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// outcome is one recorded call result in the sliding window.
type outcome uint8

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeSlow
)

// Breaker gates calls to one upstream through CLOSED/OPEN/HALF_OPEN states.
// It records the last SlidingWindowSize call outcomes and opens when the
// failure rate over that window strictly exceeds the threshold, once at least
// MinimumCalls outcomes have been recorded.
type Breaker struct {
	name string

	windowSize    int
	minimumCalls  int
	rateThreshold float64 // percent
	waitOpen      time.Duration
	halfOpenMax   int
	slowThreshold time.Duration

	failureStatuses map[int]bool

	mu       sync.Mutex
	state    State
	window   []outcome
	head     int // next write position in the ring
	filled   int
	failures int
	slow     int

	openedAt          time.Time
	halfOpenIssued    int
	halfOpenSuccesses int

	// Metrics (atomic for lock-free reads)
	totalRequests  atomic.Int64
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64
	totalRejected  atomic.Int64

	now func() time.Time
}

// defaultFailureStatuses are upstream statuses counted as breaker failures
// when the config does not name its own set.
var defaultFailureStatuses = []int{500, 502, 503, 504}

// New creates a breaker from config, applying defaults for unset fields.
func New(cfg config.BreakerConfig) *Breaker {
	windowSize := cfg.SlidingWindowSize
	if windowSize <= 0 {
		windowSize = 10
	}

	minimumCalls := cfg.MinimumCalls
	if minimumCalls <= 0 {
		minimumCalls = 10
	}
	if minimumCalls > windowSize {
		minimumCalls = windowSize
	}

	rateThreshold := cfg.FailureRateThreshold
	if rateThreshold <= 0 {
		rateThreshold = 50
	}

	waitOpen := cfg.WaitDurationOpen
	if waitOpen <= 0 {
		waitOpen = 30 * time.Second
	}

	halfOpenMax := cfg.HalfOpenCalls
	if halfOpenMax <= 0 {
		halfOpenMax = 3
	}

	statuses := cfg.FailureStatuses
	if len(statuses) == 0 {
		statuses = defaultFailureStatuses
	}
	failureStatuses := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		failureStatuses[s] = true
	}

	return &Breaker{
		name:            cfg.Name,
		windowSize:      windowSize,
		minimumCalls:    minimumCalls,
		rateThreshold:   rateThreshold,
		waitOpen:        waitOpen,
		halfOpenMax:     halfOpenMax,
		slowThreshold:   cfg.SlowCallDuration,
		failureStatuses: failureStatuses,
		state:           StateClosed,
		window:          make([]outcome, windowSize),
		now:             time.Now,
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string {
	return b.name
}

// IsFailureStatus reports whether an upstream status counts as a breaker failure.
func (b *Breaker) IsFailureStatus(code int) bool {
	return b.failureStatuses[code]
}

// TryAcquire asks for a permit. A false return means the caller must invoke
// the fallback without attempting the upstream call.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests.Add(1)

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.waitOpen {
			b.toHalfOpen()
			b.halfOpenIssued = 1 // this permit is the first trial call
			return true
		}
		b.totalRejected.Add(1)
		return false

	case StateHalfOpen:
		if b.halfOpenIssued < b.halfOpenMax {
			b.halfOpenIssued++
			return true
		}
		b.totalRejected.Add(1)
		return false
	}

	b.totalRejected.Add(1)
	return false
}

// OnSuccess records a completed call that succeeded.
func (b *Breaker) OnSuccess(duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses.Add(1)

	switch b.state {
	case StateClosed:
		if b.slowThreshold > 0 && duration > b.slowThreshold {
			b.record(outcomeSlow)
		} else {
			b.record(outcomeSuccess)
		}

	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.halfOpenMax {
			b.toClosed()
		}
	}
}

// OnFailure records a completed call that failed (failure status, timeout, or
// connection error).
func (b *Breaker) OnFailure(duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures.Add(1)

	switch b.state {
	case StateClosed:
		b.record(outcomeFailure)
		if b.filled >= b.minimumCalls && b.failureRate() > b.rateThreshold {
			b.toOpen()
		}

	case StateHalfOpen:
		// First trial failure reopens immediately.
		b.toOpen()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// record writes one outcome into the ring, evicting the oldest when full.
func (b *Breaker) record(o outcome) {
	if b.filled == b.windowSize {
		switch b.window[b.head] {
		case outcomeFailure:
			b.failures--
		case outcomeSlow:
			b.slow--
		}
	} else {
		b.filled++
	}

	b.window[b.head] = o
	b.head = (b.head + 1) % b.windowSize

	switch o {
	case outcomeFailure:
		b.failures++
	case outcomeSlow:
		b.slow++
	}
}

// failureRate returns the failure percentage over the recorded window.
func (b *Breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.filled) * 100
}

func (b *Breaker) toOpen() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.halfOpenIssued = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.halfOpenIssued = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.halfOpenIssued = 0
	b.halfOpenSuccesses = 0
	b.resetWindow()
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = outcomeSuccess
	}
	b.head = 0
	b.filled = 0
	b.failures = 0
	b.slow = 0
}

// Snapshot returns a point-in-time view of the breaker state
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:           b.name,
		State:          b.state.String(),
		FailureRate:    b.failureRate(),
		BufferedCalls:  b.filled,
		SlowCalls:      b.slow,
		TotalRequests:  b.totalRequests.Load(),
		TotalFailures:  b.totalFailures.Load(),
		TotalSuccesses: b.totalSuccesses.Load(),
		TotalRejected:  b.totalRejected.Load(),
	}
}

// Snapshot is a point-in-time view of a circuit breaker
type Snapshot struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	FailureRate    float64 `json:"failureRate"`
	BufferedCalls  int     `json:"bufferedCalls"`
	SlowCalls      int     `json:"slowCalls,omitempty"`
	TotalRequests  int64   `json:"total_requests"`
	TotalFailures  int64   `json:"total_failures"`
	TotalSuccesses int64   `json:"total_successes"`
	TotalRejected  int64   `json:"total_rejected"`
}

// Package fallback resolves canned degraded responses for resilient calls
// that could not be completed.
package fallback

import (
	"net/http"
	"sync"

	"github.com/routegrid/gateway/internal/config"
	"github.com/routegrid/gateway/internal/envelope"
)

// Reason says why the resilient call could not be completed. It picks the
// HTTP status of the resolved fallback response.
type Reason int

const (
	// ReasonBreakerOpen: the breaker rejected the call before any network I/O.
	ReasonBreakerOpen Reason = iota
	// ReasonExhausted: all retry attempts failed or the connection was refused.
	ReasonExhausted
	// ReasonTimeout: the call was classified as a timeout.
	ReasonTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonBreakerOpen:
		return "breaker-open"
	case ReasonExhausted:
		return "retries-exhausted"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// status maps a reason to its fixed HTTP status.
func (r Reason) status() int {
	if r == ReasonTimeout {
		return http.StatusRequestTimeout
	}
	return http.StatusServiceUnavailable
}

// Entry is one configured fallback: the message and error code returned
// verbatim whenever the entry's id is resolved.
type Entry struct {
	ID      string
	Message string
	Code    string
}

// Result is a resolved fallback response.
type Result struct {
	Status    int
	ErrorCode string
	Body      envelope.Response
}

// Registry maps fallback ids to entries. It is replaced wholesale on reload,
// like the route table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty fallback registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Configure replaces the registered entries.
func (r *Registry) Configure(cfgs []config.FallbackConfig) {
	entries := make(map[string]Entry, len(cfgs))
	for _, c := range cfgs {
		entries[c.ID] = Entry{ID: c.ID, Message: c.Message, Code: c.Code}
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// Resolve looks up the fallback for id and builds the degraded response for
// the given reason. An unmapped id yields 404 "fallback not configured". The
// body always has success=false and data=null.
func (r *Registry) Resolve(id string, reason Reason) Result {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return Result{
			Status: http.StatusNotFound,
			Body:   envelope.Fail("fallback not configured"),
		}
	}

	return Result{
		Status:    reason.status(),
		ErrorCode: entry.Code,
		Body:      envelope.Fail(entry.Message),
	}
}

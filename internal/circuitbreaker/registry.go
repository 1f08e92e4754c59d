package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/routegrid/gateway/internal/config"
)

// Registry manages named breakers. A breaker is created lazily on first use
// and lives for the process lifetime; reloads may re-point a name at a freshly
// configured breaker but never remove one mid-flight.
type Registry struct {
	breakers map[string]*Breaker
	mu       sync.RWMutex
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
	}
}

// Configure installs a breaker for the named config, replacing any previous
// breaker with the same name.
func (r *Registry) Configure(cfg config.BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cfg.Name] = New(cfg)
}

// Get returns the breaker for name, creating one with default settings when
// the name has not been configured.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(config.BreakerConfig{Name: name})
	r.breakers[name] = b
	return b
}

// Snapshots returns snapshots of all breakers, sorted by name for stable
// observability output.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		result = append(result, b.Snapshot())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

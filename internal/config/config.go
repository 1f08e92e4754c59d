package config

import (
	"time"

	"github.com/routegrid/gateway/internal/logging"
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Admin     AdminConfig      `yaml:"admin"`
	Logging   LoggingConfig    `yaml:"logging"`
	Upstream  UpstreamConfig   `yaml:"upstream"`
	Breakers  []BreakerConfig  `yaml:"breakers"`
	Fallbacks []FallbackConfig `yaml:"fallbacks"`
	Routes    []RouteConfig    `yaml:"routes"`
}

// ServerConfig configures the dispatch listener.
type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig configures the management listener.
type AdminConfig struct {
	Address string `yaml:"address"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the admin listener should run (default true).
func (a AdminConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// LoggingConfig configures the global and access loggers.
type LoggingConfig struct {
	Level     string               `yaml:"level"`
	AccessLog logging.AccessConfig `yaml:"access_log"`
}

// UpstreamConfig configures the shared upstream HTTP client.
type UpstreamConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
}

// RouteConfig describes one route: which requests it matches, where they go,
// and which filters wrap the call.
type RouteConfig struct {
	ID         string            `yaml:"id"`
	Target     string            `yaml:"target"`
	Predicates []PredicateConfig `yaml:"predicates"`
	Filters    []FilterConfig    `yaml:"filters"`
	Metadata   MetadataConfig    `yaml:"metadata"`
}

// MetadataConfig carries route metadata. Order is the primary sort key for
// matching priority; lower values win. Declaration order breaks ties.
type MetadataConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Enabled *bool         `yaml:"enabled"`
	Order   int           `yaml:"order"`
}

// IsEnabled reports whether the route participates in matching (default true).
func (m MetadataConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Predicate names form a closed set; anything else is rejected at validation.
const (
	PredicatePath   = "Path"
	PredicateMethod = "Method"
	PredicateHeader = "Header"
	PredicateQuery  = "Query"
)

// PredicateConfig is one request-matching condition. Name selects the variant;
// the remaining fields are that variant's arguments.
type PredicateConfig struct {
	Name    string   `yaml:"name"`
	Pattern string   `yaml:"pattern,omitempty"` // Path: pattern with ** and {var}
	Methods []string `yaml:"methods,omitempty"` // Method: allowed verbs
	Header  string   `yaml:"header,omitempty"`  // Header: header name
	Param   string   `yaml:"param,omitempty"`   // Query: query key
	Value   string   `yaml:"value,omitempty"`   // Header/Query: required value
}

// Filter names form a closed set; anything else is rejected at validation.
const (
	FilterCircuitBreaker = "CircuitBreaker"
	FilterRetry          = "Retry"
	FilterAddHeader      = "AddHeader"
	FilterSetHeader      = "SetHeader"
	FilterStripPrefix    = "StripPrefix"
	FilterRewritePath    = "RewritePath"
)

// FilterConfig is one route filter. Name selects the variant; the remaining
// fields are that variant's arguments.
type FilterConfig struct {
	Name string `yaml:"name"`

	// CircuitBreaker
	Breaker  string `yaml:"breaker,omitempty"`
	Fallback string `yaml:"fallback,omitempty"`

	// Retry
	Retries  int           `yaml:"retries,omitempty"`
	Statuses []int         `yaml:"statuses,omitempty"`
	Methods  []string      `yaml:"methods,omitempty"`
	Backoff  BackoffConfig `yaml:"backoff,omitempty"`

	// AddHeader / SetHeader
	Header string `yaml:"header,omitempty"`
	Value  string `yaml:"value,omitempty"`

	// StripPrefix
	Parts int `yaml:"parts,omitempty"`

	// RewritePath
	Regex       string `yaml:"regex,omitempty"`
	Replacement string `yaml:"replacement,omitempty"`
}

// BackoffConfig configures the retry backoff schedule. With BasedOnPrevious the
// multiplier applies to the previous actual backoff instead of first*factor^n.
type BackoffConfig struct {
	First           time.Duration `yaml:"first"`
	Max             time.Duration `yaml:"max"`
	Factor          float64       `yaml:"factor"`
	BasedOnPrevious bool          `yaml:"based_on_previous"`
}

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	Name                 string        `yaml:"name"`
	SlidingWindowSize    int           `yaml:"sliding_window_size"`
	MinimumCalls         int           `yaml:"minimum_calls"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"` // percent
	WaitDurationOpen     time.Duration `yaml:"wait_duration_open"`
	HalfOpenCalls        int           `yaml:"half_open_calls"`
	FailureStatuses      []int         `yaml:"failure_statuses"`
	SlowCallDuration     time.Duration `yaml:"slow_call_duration"`
}

// FallbackConfig maps a fallback id to a canned degraded response.
type FallbackConfig struct {
	ID      string `yaml:"id"`
	Message string `yaml:"message"`
	Code    string `yaml:"code"`
}

// DefaultConfig returns a config populated with defaults. Loader unmarshals
// on top of it so absent fields keep their default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Admin: AdminConfig{
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Upstream: UpstreamConfig{
			ConnectTimeout:  5 * time.Second,
			ResponseTimeout: 30 * time.Second,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    256,
		},
	}
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks the non-route parts of the configuration. Route validation
// happens in the route package, where the reload path shares it.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}

	breakerNames := make(map[string]bool)
	for i, b := range cfg.Breakers {
		if b.Name == "" {
			return fmt.Errorf("breaker %d: name is required", i)
		}
		if breakerNames[b.Name] {
			return fmt.Errorf("duplicate breaker name: %s", b.Name)
		}
		breakerNames[b.Name] = true

		if b.SlidingWindowSize < 0 {
			return fmt.Errorf("breaker %s: sliding_window_size must not be negative", b.Name)
		}
		if b.MinimumCalls < 0 {
			return fmt.Errorf("breaker %s: minimum_calls must not be negative", b.Name)
		}
		if b.FailureRateThreshold < 0 || b.FailureRateThreshold > 100 {
			return fmt.Errorf("breaker %s: failure_rate_threshold must be between 0 and 100", b.Name)
		}
		if b.WaitDurationOpen < 0 {
			return fmt.Errorf("breaker %s: wait_duration_open must not be negative", b.Name)
		}
	}

	fallbackIDs := make(map[string]bool)
	for i, f := range cfg.Fallbacks {
		if f.ID == "" {
			return fmt.Errorf("fallback %d: id is required", i)
		}
		if fallbackIDs[f.ID] {
			return fmt.Errorf("duplicate fallback id: %s", f.ID)
		}
		fallbackIDs[f.ID] = true
	}

	return nil
}

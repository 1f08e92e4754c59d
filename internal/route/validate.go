package route

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/routegrid/gateway/internal/config"
)

// ValidationError describes a rejected route configuration. It names the
// offending route and field so reload callers can report exactly what failed.
type ValidationError struct {
	RouteID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	id := e.RouteID
	if id == "" {
		id = "<missing id>"
	}
	return fmt.Sprintf("route %s: %s: %s", id, e.Field, e.Reason)
}

func invalid(routeID, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		RouteID: routeID,
		Field:   field,
		Reason:  fmt.Sprintf(format, args...),
	}
}

// Validate checks a single route configuration. Rules are applied in order and
// the first violation is returned.
func Validate(rc *config.RouteConfig) error {
	if rc == nil {
		return invalid("", "route", "route is nil")
	}
	if rc.ID == "" {
		return invalid("", "id", "id is required")
	}
	if rc.Target == "" {
		return invalid(rc.ID, "target", "target is required")
	}
	u, err := url.Parse(rc.Target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid(rc.ID, "target", "malformed target URI %q", rc.Target)
	}
	if len(rc.Predicates) == 0 {
		return invalid(rc.ID, "predicates", "at least one predicate is required")
	}

	for i, p := range rc.Predicates {
		field := fmt.Sprintf("predicates[%d]", i)
		switch p.Name {
		case config.PredicatePath:
			if p.Pattern == "" {
				return invalid(rc.ID, field, "Path predicate requires a pattern")
			}
			if !strings.HasPrefix(p.Pattern, "/") {
				return invalid(rc.ID, field, "Path pattern %q must start with /", p.Pattern)
			}
		case config.PredicateMethod:
			if len(p.Methods) == 0 {
				return invalid(rc.ID, field, "Method predicate requires at least one method")
			}
		case config.PredicateHeader:
			if p.Header == "" {
				return invalid(rc.ID, field, "Header predicate requires a header name")
			}
		case config.PredicateQuery:
			if p.Param == "" {
				return invalid(rc.ID, field, "Query predicate requires a param name")
			}
		default:
			return invalid(rc.ID, field, "unknown predicate %q", p.Name)
		}
	}

	for i, f := range rc.Filters {
		field := fmt.Sprintf("filters[%d]", i)
		switch f.Name {
		case config.FilterCircuitBreaker:
			if f.Breaker == "" {
				return invalid(rc.ID, field, "CircuitBreaker filter requires a breaker name")
			}
		case config.FilterRetry:
			if f.Retries < 0 {
				return invalid(rc.ID, field, "Retry filter requires retries >= 0")
			}
		case config.FilterAddHeader, config.FilterSetHeader:
			if f.Header == "" {
				return invalid(rc.ID, field, "%s filter requires a header name", f.Name)
			}
		case config.FilterStripPrefix:
			if f.Parts <= 0 {
				return invalid(rc.ID, field, "StripPrefix filter requires parts > 0")
			}
		case config.FilterRewritePath:
			if f.Regex == "" {
				return invalid(rc.ID, field, "RewritePath filter requires a regex")
			}
		default:
			return invalid(rc.ID, field, "unknown filter %q", f.Name)
		}
	}

	if rc.Metadata.Timeout < 0 {
		return invalid(rc.ID, "metadata.timeout", "timeout must not be negative")
	}

	return nil
}

// ValidateAll checks a full route set. Beyond per-route validation it rejects
// duplicate ids. Any violation rejects the whole set; there is no partial
// acceptance.
func ValidateAll(rcs []config.RouteConfig) error {
	seen := make(map[string]bool, len(rcs))
	for i := range rcs {
		if err := Validate(&rcs[i]); err != nil {
			return err
		}
		if seen[rcs[i].ID] {
			return invalid(rcs[i].ID, "id", "duplicate route id")
		}
		seen[rcs[i].ID] = true
	}
	return nil
}

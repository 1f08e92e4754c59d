package route

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/routegrid/gateway/internal/config"
	"github.com/routegrid/gateway/internal/retry"
)

// Route is one validated, compiled route. Routes are immutable after Compile;
// the table republishes whole snapshots instead of mutating them.
type Route struct {
	ID      string
	Target  *url.URL
	Order   int
	Timeout int64 // nanoseconds; 0 = use gateway default
	Enabled bool

	// Resilience filters
	BreakerName string
	FallbackID  string
	Retry       *retry.Spec

	// Header / path rewrite filters, applied in declaration order
	headerOps   []headerOp
	stripParts  int
	rewriteRe   *regexp.Regexp
	rewriteRepl string

	matcher   *compiledMatcher
	configIdx int // declaration order for tie-breaking
}

type headerOp struct {
	name    string
	value   string
	replace bool // SetHeader replaces, AddHeader appends
}

// Compile validates and compiles a route config. idx is the declaration index
// within the route set.
func Compile(rc config.RouteConfig, idx int) (*Route, error) {
	if err := Validate(&rc); err != nil {
		return nil, err
	}

	target, err := url.Parse(rc.Target)
	if err != nil {
		return nil, invalid(rc.ID, "target", "malformed target URI %q", rc.Target)
	}

	r := &Route{
		ID:        rc.ID,
		Target:    target,
		Order:     rc.Metadata.Order,
		Timeout:   int64(rc.Metadata.Timeout),
		Enabled:   rc.Metadata.IsEnabled(),
		configIdx: idx,
	}

	r.matcher, err = newCompiledMatcher(rc.Predicates)
	if err != nil {
		return nil, invalid(rc.ID, "predicates", "%v", err)
	}

	for _, f := range rc.Filters {
		switch f.Name {
		case config.FilterCircuitBreaker:
			r.BreakerName = f.Breaker
			r.FallbackID = f.Fallback
		case config.FilterRetry:
			r.Retry = retry.NewSpec(f)
		case config.FilterAddHeader:
			r.headerOps = append(r.headerOps, headerOp{name: f.Header, value: f.Value})
		case config.FilterSetHeader:
			r.headerOps = append(r.headerOps, headerOp{name: f.Header, value: f.Value, replace: true})
		case config.FilterStripPrefix:
			r.stripParts = f.Parts
		case config.FilterRewritePath:
			re, err := regexp.Compile(f.Regex)
			if err != nil {
				return nil, invalid(rc.ID, "filters", "invalid RewritePath regex %q: %v", f.Regex, err)
			}
			r.rewriteRe = re
			r.rewriteRepl = f.Replacement
		}
	}

	if r.Retry == nil {
		r.Retry = retry.NoRetry()
	}

	return r, nil
}

// Match evaluates the route's predicates with AND semantics. methodMiss is
// true when every predicate except Method matched, so the caller can
// distinguish 405 from 404.
func (r *Route) Match(req *http.Request) (matched, methodMiss bool) {
	return r.matcher.match(req)
}

// RewritePath applies StripPrefix and RewritePath filters to the request path.
func (r *Route) RewritePath(path string) string {
	if r.stripParts > 0 {
		path = stripSegments(path, r.stripParts)
	}
	if r.rewriteRe != nil {
		path = r.rewriteRe.ReplaceAllString(path, r.rewriteRepl)
	}
	return path
}

// ApplyHeaderOps applies AddHeader/SetHeader filters to the outbound headers.
func (r *Route) ApplyHeaderOps(h http.Header) {
	for _, op := range r.headerOps {
		if op.replace {
			h.Set(op.name, op.value)
		} else {
			h.Add(op.name, op.value)
		}
	}
}

// PredicateSummary renders the route's predicates for observability output.
func (r *Route) PredicateSummary() []string {
	return r.matcher.summary()
}

// stripSegments removes n leading path segments.
func stripSegments(path string, n int) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if n >= len(parts) {
		return "/"
	}
	return "/" + strings.Join(parts[n:], "/")
}

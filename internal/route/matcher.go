package route

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/routegrid/gateway/internal/config"
)

// compiledMatcher evaluates a route's predicate set against a request. All
// predicates must match (AND). The Method predicate is kept separate so the
// dispatcher can tell a method mismatch (405) from no match at all (404).
type compiledMatcher struct {
	paths   []pathPredicate
	headers []kvPredicate
	queries []kvPredicate
	methods map[string]bool // nil = no Method predicate
}

type pathPredicate struct {
	pattern string // doublestar pattern, {var} segments rewritten to *
	raw     string
}

type kvPredicate struct {
	name  string
	value string
}

// newCompiledMatcher compiles predicate configs. Path patterns are rewritten
// once: {var} becomes a single-segment wildcard, ** is passed through to
// doublestar which matches any remaining segments.
func newCompiledMatcher(preds []config.PredicateConfig) (*compiledMatcher, error) {
	cm := &compiledMatcher{}

	for _, p := range preds {
		switch p.Name {
		case config.PredicatePath:
			pattern := rewriteVars(p.Pattern)
			// Surface bad patterns at compile time, not per request.
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("invalid path pattern %q", p.Pattern)
			}
			cm.paths = append(cm.paths, pathPredicate{pattern: pattern, raw: p.Pattern})
		case config.PredicateMethod:
			if cm.methods == nil {
				cm.methods = make(map[string]bool, len(p.Methods))
			}
			for _, m := range p.Methods {
				cm.methods[strings.ToUpper(m)] = true
			}
		case config.PredicateHeader:
			cm.headers = append(cm.headers, kvPredicate{name: p.Header, value: p.Value})
		case config.PredicateQuery:
			cm.queries = append(cm.queries, kvPredicate{name: p.Param, value: p.Value})
		}
	}

	return cm, nil
}

// match evaluates all predicates. methodMiss is true when the request failed
// only the Method predicate.
func (cm *compiledMatcher) match(r *http.Request) (matched, methodMiss bool) {
	for _, pp := range cm.paths {
		ok, err := doublestar.Match(pp.pattern, r.URL.Path)
		if err != nil || !ok {
			return false, false
		}
	}

	for _, hp := range cm.headers {
		if r.Header.Get(hp.name) != hp.value {
			return false, false
		}
	}

	query := r.URL.Query()
	for _, qp := range cm.queries {
		if query.Get(qp.name) != qp.value {
			return false, false
		}
	}

	if cm.methods != nil && !cm.methods[strings.ToUpper(r.Method)] {
		return false, true
	}

	return true, false
}

// summary renders the predicates in config-like notation for observability.
func (cm *compiledMatcher) summary() []string {
	var out []string
	for _, pp := range cm.paths {
		out = append(out, "Path="+pp.raw)
	}
	if cm.methods != nil {
		methods := make([]string, 0, len(cm.methods))
		for m := range cm.methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		out = append(out, "Method="+strings.Join(methods, ","))
	}
	for _, hp := range cm.headers {
		out = append(out, "Header="+hp.name+":"+hp.value)
	}
	for _, qp := range cm.queries {
		out = append(out, "Query="+qp.name+"="+qp.value)
	}
	return out
}

// rewriteVars converts {name} path variables to single-segment wildcards.
// Variables are matched, not captured.
func rewriteVars(pattern string) string {
	var result strings.Builder
	i := 0
	for i < len(pattern) {
		if pattern[i] == '{' {
			j := strings.IndexByte(pattern[i:], '}')
			if j == -1 {
				result.WriteByte(pattern[i])
				i++
				continue
			}
			result.WriteByte('*')
			i += j + 1
		} else {
			result.WriteByte(pattern[i])
			i++
		}
	}
	return result.String()
}

package route

import (
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/routegrid/gateway/internal/config"
)

// Table holds the active route set. Reads are lock-free: the sorted snapshot
// sits behind an atomic pointer and is replaced wholesale on reload, so
// in-flight dispatches keep matching against the snapshot they captured.
type Table struct {
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	// enabled routes sorted by (metadata.order asc, declaration index asc)
	matchable []*Route
	// every compiled route, in declaration order, for observability
	all []*Route
}

// MatchResult is the outcome of matching one request against the table.
type MatchResult struct {
	Route *Route
	// MethodMismatch is true when no route matched but at least one matched
	// everything except its Method predicate.
	MethodMismatch bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(&snapshot{})
	return t
}

// Reload validates, compiles, sorts, and atomically publishes a new route
// set. Any validation failure rejects the whole set and leaves the active
// table untouched.
func (t *Table) Reload(rcs []config.RouteConfig) error {
	if err := ValidateAll(rcs); err != nil {
		return err
	}

	snap := &snapshot{
		matchable: make([]*Route, 0, len(rcs)),
		all:       make([]*Route, 0, len(rcs)),
	}

	for i := range rcs {
		r, err := Compile(rcs[i], i)
		if err != nil {
			return err
		}
		snap.all = append(snap.all, r)
		if r.Enabled {
			snap.matchable = append(snap.matchable, r)
		}
	}

	sort.SliceStable(snap.matchable, func(i, j int) bool {
		if snap.matchable[i].Order != snap.matchable[j].Order {
			return snap.matchable[i].Order < snap.matchable[j].Order
		}
		return snap.matchable[i].configIdx < snap.matchable[j].configIdx
	})

	t.current.Store(snap)
	return nil
}

// Routes returns the active sorted matchable routes.
func (t *Table) Routes() []*Route {
	return t.current.Load().matchable
}

// AllRoutes returns every route in the active set, including disabled ones,
// in declaration order.
func (t *Table) AllRoutes() []*Route {
	return t.current.Load().all
}

// Match scans the active routes in priority order and returns the first full
// match. First match wins: order, then declaration index, is the sole
// disambiguator among overlapping routes.
func (t *Table) Match(r *http.Request) MatchResult {
	var methodMiss bool
	for _, route := range t.current.Load().matchable {
		matched, miss := route.Match(r)
		if matched {
			return MatchResult{Route: route}
		}
		if miss {
			methodMiss = true
		}
	}
	return MatchResult{MethodMismatch: methodMiss}
}

package route

import (
	"net/http/httptest"
	"testing"

	"github.com/routegrid/gateway/internal/config"
)

func pathRoute(id, pattern string, order int) config.RouteConfig {
	return config.RouteConfig{
		ID:     id,
		Target: "http://localhost:9001",
		Predicates: []config.PredicateConfig{
			{Name: config.PredicatePath, Pattern: pattern},
		},
		Metadata: config.MetadataConfig{Order: order},
	}
}

func TestReloadPublishesSortedSet(t *testing.T) {
	table := NewTable()
	err := table.Reload([]config.RouteConfig{
		pathRoute("c", "/c/**", 3),
		pathRoute("a", "/a/**", 1),
		pathRoute("b", "/b/**", 2),
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	routes := table.Routes()
	if len(routes) != 3 {
		t.Fatalf("got %d routes, want 3", len(routes))
	}
	for i, want := range []string{"a", "b", "c"} {
		if routes[i].ID != want {
			t.Errorf("routes[%d] = %s, want %s", i, routes[i].ID, want)
		}
	}
}

func TestReloadTieBreakByDeclarationOrder(t *testing.T) {
	table := NewTable()
	err := table.Reload([]config.RouteConfig{
		pathRoute("first", "/api/**", 1),
		pathRoute("second", "/api/**", 1),
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/x", nil)
	result := table.Match(req)
	if result.Route == nil || result.Route.ID != "first" {
		t.Errorf("equal order should fall back to declaration order, got %+v", result.Route)
	}
}

func TestInvalidReloadLeavesTableUnchanged(t *testing.T) {
	table := NewTable()
	if err := table.Reload([]config.RouteConfig{pathRoute("keep", "/api/**", 1)}); err != nil {
		t.Fatalf("initial reload: %v", err)
	}

	// Scenario: reload with a route missing id is rejected wholesale.
	missing := pathRoute("", "/other/**", 1)
	err := table.Reload([]config.RouteConfig{pathRoute("new", "/new/**", 1), missing})
	if err == nil {
		t.Fatal("expected reload rejection")
	}

	req := httptest.NewRequest("GET", "/api/x", nil)
	result := table.Match(req)
	if result.Route == nil || result.Route.ID != "keep" {
		t.Error("prior table should still serve matches unchanged")
	}
	if result := table.Match(httptest.NewRequest("GET", "/new/x", nil)); result.Route != nil {
		t.Error("rejected route set must not be partially visible")
	}
}

func TestReloadIdempotent(t *testing.T) {
	set := []config.RouteConfig{
		pathRoute("exact", "/api/exact", 1),
		pathRoute("wild", "/api/**", 3),
	}

	table := NewTable()
	for i := 0; i < 3; i++ {
		if err := table.Reload(set); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}

	req := httptest.NewRequest("GET", "/api/exact", nil)
	if result := table.Match(req); result.Route == nil || result.Route.ID != "exact" {
		t.Error("repeated identical reloads must not change dispatch behavior")
	}
}

func TestFirstMatchShadowing(t *testing.T) {
	// The exact route carries the lower order number, so it wins for its own
	// path; everything else under /api/ falls to the wildcard.
	table := NewTable()
	err := table.Reload([]config.RouteConfig{
		pathRoute("exact", "/api/exact", 1),
		pathRoute("wild", "/api/**", 3),
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if result := table.Match(httptest.NewRequest("GET", "/api/exact", nil)); result.Route == nil || result.Route.ID != "exact" {
		t.Errorf("/api/exact should match exact, got %+v", result.Route)
	}
	if result := table.Match(httptest.NewRequest("GET", "/api/exact/x", nil)); result.Route == nil || result.Route.ID != "wild" {
		t.Errorf("/api/exact/x should match wild, got %+v", result.Route)
	}
}

func TestOrderMisconfigurationShadowsExact(t *testing.T) {
	// First match wins: when the wildcard outranks the exact route, it
	// shadows it. This order-dependent behavior is deliberate.
	table := NewTable()
	err := table.Reload([]config.RouteConfig{
		pathRoute("wild", "/api/**", 1),
		pathRoute("exact", "/api/exact", 3),
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if result := table.Match(httptest.NewRequest("GET", "/api/exact", nil)); result.Route == nil || result.Route.ID != "wild" {
		t.Errorf("wildcard with lower order shadows the exact route, got %+v", result.Route)
	}
}

func TestMatchDeterministic(t *testing.T) {
	table := NewTable()
	err := table.Reload([]config.RouteConfig{
		pathRoute("a", "/api/**", 1),
		pathRoute("b", "/api/**", 2),
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/x", nil)
	first := table.Match(req)
	for i := 0; i < 100; i++ {
		if got := table.Match(req); got.Route != first.Route {
			t.Fatalf("match is not deterministic: got %v then %v", first.Route.ID, got.Route.ID)
		}
	}
}

func TestDisabledRouteNotMatchable(t *testing.T) {
	disabled := pathRoute("off", "/api/**", 1)
	off := false
	disabled.Metadata.Enabled = &off

	table := NewTable()
	if err := table.Reload([]config.RouteConfig{disabled}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if result := table.Match(httptest.NewRequest("GET", "/api/x", nil)); result.Route != nil {
		t.Error("disabled route must not match")
	}
	if len(table.AllRoutes()) != 1 {
		t.Error("disabled route should still appear in AllRoutes")
	}
}

func TestMethodMismatchReported(t *testing.T) {
	rc := pathRoute("r", "/api/**", 1)
	rc.Predicates = append(rc.Predicates, config.PredicateConfig{
		Name: config.PredicateMethod, Methods: []string{"GET"},
	})

	table := NewTable()
	if err := table.Reload([]config.RouteConfig{rc}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	result := table.Match(httptest.NewRequest("POST", "/api/x", nil))
	if result.Route != nil {
		t.Error("POST should not match")
	}
	if !result.MethodMismatch {
		t.Error("method mismatch should be reported for a path that matched")
	}

	result = table.Match(httptest.NewRequest("POST", "/nope", nil))
	if result.MethodMismatch {
		t.Error("no method mismatch when the path never matched")
	}
}

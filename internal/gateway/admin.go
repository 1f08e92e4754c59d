package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/routegrid/gateway/internal/envelope"
	"github.com/routegrid/gateway/internal/logging"
	"github.com/routegrid/gateway/internal/retry"
	"go.uber.org/zap"
)

// routeView is the observability rendering of one active route. Retry is
// present only for routes with a retry budget.
type routeView struct {
	ID         string                 `json:"id"`
	Target     string                 `json:"target"`
	Order      int                    `json:"order"`
	Enabled    bool                   `json:"enabled"`
	Predicates []string               `json:"predicates"`
	Retry      *retry.MetricsSnapshot `json:"retry,omitempty"`
}

// AdminHandler serves the management surface: breaker state, the active route
// table, a reload trigger, liveness, and prometheus metrics. reload re-reads
// the configuration source and swaps the table.
func (g *Gateway) AdminHandler(reload func() error) http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/admin/breakers", g.handleBreakers)
	router.HandlerFunc(http.MethodGet, "/admin/routes", g.handleRoutes)
	router.HandlerFunc(http.MethodPost, "/admin/reload", g.handleReload(reload))
	router.HandlerFunc(http.MethodGet, "/admin/health", handleHealth)
	router.Handler(http.MethodGet, "/metrics", g.metrics.Handler())

	return router
}

// handleBreakers reports each breaker's {name, state, failureRate, bufferedCalls}.
func (g *Gateway) handleBreakers(w http.ResponseWriter, r *http.Request) {
	snapshots := g.breakers.Snapshots()
	for _, s := range snapshots {
		// Keep the state gauge fresh even for idle breakers.
		g.metrics.SetBreakerState(s.Name, stateValue(s.State))
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func stateValue(state string) int {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

func (g *Gateway) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := g.table.AllRoutes()
	views := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		view := routeView{
			ID:         rt.ID,
			Target:     rt.Target.String(),
			Order:      rt.Order,
			Enabled:    rt.Enabled,
			Predicates: rt.PredicateSummary(),
		}
		if rt.Retry.Retries > 0 {
			snap := rt.Retry.Metrics.Snapshot()
			view.Retry = &snap
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (g *Gateway) handleReload(reload func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reload == nil {
			envelope.Fail("reload not configured").Write(w, http.StatusNotImplemented)
			return
		}
		if err := reload(); err != nil {
			logging.Error("reload rejected", zap.Error(err))
			envelope.Fail(err.Error()).Write(w, http.StatusBadRequest)
			return
		}
		envelope.OK("reloaded", nil).Write(w, http.StatusOK)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	envelope.OK("ok", nil).Write(w, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

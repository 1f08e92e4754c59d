package gateway

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/routegrid/gateway/internal/circuitbreaker"
	"github.com/routegrid/gateway/internal/config"
	"github.com/routegrid/gateway/internal/envelope"
	"github.com/routegrid/gateway/internal/errors"
	"github.com/routegrid/gateway/internal/fallback"
	"github.com/routegrid/gateway/internal/logging"
	"github.com/routegrid/gateway/internal/metrics"
	"github.com/routegrid/gateway/internal/middleware"
	"github.com/routegrid/gateway/internal/proxy"
	"github.com/routegrid/gateway/internal/route"
	"go.uber.org/zap"
)

// Gateway dispatches inbound requests: match against the active route table,
// run the resilient upstream call, and normalize every outcome into the
// response envelope. All failure kinds are caught here; nothing propagates
// past the dispatcher.
type Gateway struct {
	table     *route.Table
	breakers  *circuitbreaker.Registry
	fallbacks *fallback.Registry
	upstream  *proxy.Upstream
	metrics   *metrics.Collector

	accessLogger *zap.Logger

	reloadMu sync.Mutex
}

// New creates a gateway from config. The initial route set must validate.
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		table:        route.NewTable(),
		breakers:     circuitbreaker.NewRegistry(),
		fallbacks:    fallback.NewRegistry(),
		upstream:     proxy.New(cfg.Upstream),
		metrics:      metrics.NewCollector(),
		accessLogger: logging.NewAccessLogger(cfg.Logging.AccessLog),
	}

	if err := g.Reload(cfg); err != nil {
		return nil, err
	}

	return g, nil
}

// SetUpstream swaps the upstream client. Tests use it to stub the network.
func (g *Gateway) SetUpstream(u *proxy.Upstream) {
	g.upstream = u
}

// Table returns the active route table.
func (g *Gateway) Table() *route.Table {
	return g.table
}

// Breakers returns the breaker registry.
func (g *Gateway) Breakers() *circuitbreaker.Registry {
	return g.breakers
}

// Reload validates and atomically publishes a new route set, breaker configs,
// and fallback entries. On validation failure the prior table stays active
// and the error reports the offending route and field.
func (g *Gateway) Reload(cfg *config.Config) error {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	if err := g.table.Reload(cfg.Routes); err != nil {
		return errors.WrapKind(err, errors.KindConfiguration, http.StatusBadRequest, "route reload rejected")
	}

	for _, b := range cfg.Breakers {
		g.breakers.Configure(b)
	}
	g.fallbacks.Configure(cfg.Fallbacks)

	logging.Info("route table published",
		zap.Int("routes", len(cfg.Routes)),
		zap.Int("breakers", len(cfg.Breakers)),
		zap.Int("fallbacks", len(cfg.Fallbacks)),
	)
	return nil
}

// Handler returns the dispatch handler wrapped in the fixed filter chain:
// request id, request logging, response formatting, panic recovery.
func (g *Gateway) Handler() http.Handler {
	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.AccessLog(g.accessLogger),
		middleware.ResponseFormat(),
		middleware.Recovery(),
	)
	return chain.ThenFunc(g.dispatch)
}

// dispatch is one request's path through the engine.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	result := g.table.Match(r)
	if result.Route == nil {
		status := http.StatusNotFound
		msg := "no route matched"
		if result.MethodMismatch {
			status = http.StatusMethodNotAllowed
			msg = "method not allowed"
		}
		envelope.Fail(msg).Write(w, status)
		g.metrics.RecordRequest("unmatched", r.Method, status, time.Since(start))
		return
	}

	rt := result.Route
	if info := middleware.InfoFromContext(r.Context()); info != nil {
		info.RouteID = rt.ID
	}

	status := g.forward(w, r, rt)
	g.metrics.RecordRequest(rt.ID, r.Method, status, time.Since(start))
}

// forward performs the resilient upstream call for a matched route and
// writes the response. Returns the client-facing status for metrics.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, rt *route.Route) int {
	outReq, err := g.upstream.BuildRequest(rt, r)
	if err != nil {
		envelope.Fail("Internal Server Error").Write(w, http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	var br *circuitbreaker.Breaker
	if rt.BreakerName != "" {
		br = g.breakers.Get(rt.BreakerName)
	}

	resp, retries, err := rt.Retry.Execute(r.Context(), br, outReq, func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return g.upstream.Do(ctx, rt, req)
	})
	for ; retries > 0; retries-- {
		g.metrics.RecordRetry(rt.ID)
	}
	if br != nil {
		g.metrics.SetBreakerState(br.Name(), int(br.State()))
	}

	if err != nil {
		return g.writeFailure(w, rt, err)
	}

	defer resp.Body.Close()
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	return resp.StatusCode
}

// writeFailure is the error-normalization stage: it maps the failure taxonomy
// onto the fallback registry when the route has a fallback configured, and
// onto plain envelope statuses otherwise.
func (g *Gateway) writeFailure(w http.ResponseWriter, rt *route.Route, err error) int {
	ge, ok := errors.IsGatewayError(err)
	if !ok {
		envelope.Fail("Internal Server Error").Write(w, http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	var reason fallback.Reason
	switch ge.Kind {
	case errors.KindBreakerOpen:
		reason = fallback.ReasonBreakerOpen
	case errors.KindTimeout:
		reason = fallback.ReasonTimeout
	default:
		reason = fallback.ReasonExhausted
	}

	logging.Warn("resilient call failed",
		zap.String("route", rt.ID),
		zap.String("reason", reason.String()),
		zap.Error(ge),
	)

	if rt.FallbackID == "" {
		envelope.Fail(ge.Message).Write(w, ge.Code)
		return ge.Code
	}

	res := g.fallbacks.Resolve(rt.FallbackID, reason)
	g.metrics.RecordFallback(rt.ID, reason.String())
	if res.ErrorCode != "" {
		w.Header().Set("X-Error-Code", res.ErrorCode)
	}
	res.Body.Write(w, res.Status)
	return res.Status
}

// copyHeaders copies upstream response headers to the client, minus
// hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		switch name {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

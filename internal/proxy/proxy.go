// Package proxy issues the outbound upstream calls on behalf of matched
// routes: it rewrites the path onto the route's target, carries the original
// headers plus the gateway markers, and enforces the per-attempt timeout.
package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/routegrid/gateway/internal/config"
	"github.com/routegrid/gateway/internal/middleware"
	"github.com/routegrid/gateway/internal/route"
)

// hopHeaders are stripped before forwarding, per RFC 7230 section 6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream is the shared outbound HTTP client.
type Upstream struct {
	transport      http.RoundTripper
	defaultTimeout time.Duration
}

// New creates an upstream client from config.
func New(cfg config.UpstreamConfig) *Upstream {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &Upstream{
		transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			ForceAttemptHTTP2:   true,
		},
		defaultTimeout: cfg.ResponseTimeout,
	}
}

// NewWithTransport creates an upstream client over a caller-supplied
// transport. Tests use this to stub the network.
func NewWithTransport(rt http.RoundTripper, timeout time.Duration) *Upstream {
	return &Upstream{transport: rt, defaultTimeout: timeout}
}

// maxRewindBody caps how much of an inbound body is buffered to make retries
// possible. Larger bodies forward unbuffered and are never retried.
const maxRewindBody = 1 << 20

// BuildRequest constructs the outbound request for a matched route: the
// route's target plus the rewritten inbound path, the inbound headers minus
// hop-by-hop ones, the gateway markers, and the route's header filters. For
// retry-enabled routes, small inbound bodies are buffered so every attempt
// can resend them; server requests arrive without GetBody.
func (u *Upstream) BuildRequest(rt *route.Route, inbound *http.Request) (*http.Request, error) {
	target := *rt.Target
	target.Path = singleJoinSlash(rt.Target.Path, rt.RewritePath(inbound.URL.Path))
	target.RawQuery = inbound.URL.RawQuery

	var body io.Reader = inbound.Body
	if rt.Retry.Retries > 0 && inbound.GetBody == nil &&
		inbound.Body != nil && inbound.Body != http.NoBody &&
		inbound.ContentLength > 0 && inbound.ContentLength <= maxRewindBody {
		buf, err := io.ReadAll(inbound.Body)
		if err != nil {
			return nil, err
		}
		// bytes.Reader bodies get GetBody and ContentLength from NewRequest.
		body = bytes.NewReader(buf)
	}

	out, err := http.NewRequest(inbound.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if out.GetBody == nil {
		out.ContentLength = inbound.ContentLength
		out.GetBody = inbound.GetBody
	}

	for name, values := range inbound.Header {
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	out.Header.Set("X-Gateway-Request", "true")
	if id := middleware.GetRequestID(inbound); id != "" {
		out.Header.Set(middleware.RequestIDHeader, id)
	}
	if host, _, err := net.SplitHostPort(inbound.RemoteAddr); err == nil {
		out.Header.Set("X-Forwarded-For", host)
	}
	out.Header.Set("X-Forwarded-Host", inbound.Host)

	rt.ApplyHeaderOps(out.Header)

	return out, nil
}

// Do performs one attempt with the per-attempt timeout for the route. The
// returned response body is unread; cancellation of ctx aborts the call.
func (u *Upstream) Do(ctx context.Context, rt *route.Route, req *http.Request) (*http.Response, error) {
	timeout := time.Duration(rt.Timeout)
	if timeout <= 0 {
		timeout = u.defaultTimeout
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		// The response body must stay readable after return; tie the timer's
		// release to the body being closed instead of deferring cancel here.
		resp, err := u.transport.RoundTrip(req.WithContext(attemptCtx))
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return u.transport.RoundTrip(req.WithContext(attemptCtx))
}

// cancelReadCloser releases the attempt's timeout when the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// singleJoinSlash joins two URL path segments with exactly one slash.
func singleJoinSlash(a, b string) string {
	if a == "" {
		return b
	}
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDHeader is the response header carrying the generated request id.
const RequestIDHeader = "X-Gateway-Request-Id"

// RequestInfo is mutable per-request state shared along the chain. The
// dispatcher fills RouteID in after matching so the access logger can see it.
type RequestInfo struct {
	RequestID string
	RouteID   string
}

type requestInfoKey struct{}

// InfoFromContext returns the request info, or nil outside the chain.
func InfoFromContext(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// RequestID generates a request id for every request, exposes it on the
// response, and seeds the per-request info in the context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.New().String()
			}

			w.Header().Set(RequestIDHeader, id)

			info := &RequestInfo{RequestID: id}
			ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	if info := InfoFromContext(r.Context()); info != nil {
		return info.RequestID
	}
	return ""
}

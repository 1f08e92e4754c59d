package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/routegrid/gateway/internal/envelope"
	"github.com/routegrid/gateway/internal/logging"
	"go.uber.org/zap"
)

// Recovery converts a panicking dispatch into a 500 envelope instead of
// killing the connection.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					envelope.Fail("Internal Server Error").Write(w, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/routegrid/gateway/internal/envelope"
)

// ResponseFormat is the final formatting stage: it sets the JSON content
// type, security headers, CORS echo headers when an Origin is present, and
// guarantees that every body leaving the gateway conforms to the
// {success,message,data} envelope. Bodies that already are envelopes pass
// through byte for byte; anything else is wrapped.
func ResponseFormat() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			if origin := r.Header.Get("Origin"); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Vary", "Origin")
			}

			bw := &bufferingWriter{
				ResponseWriter: w,
				buf:            &bytes.Buffer{},
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(bw, r)

			body := bw.buf.Bytes()
			if !envelope.IsEnvelope(body) {
				body = wrapBody(bw.statusCode, body)
			}

			h.Set("Content-Type", "application/json")
			h.Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(bw.statusCode)
			w.Write(body)
		})
	}
}

// wrapBody coerces an arbitrary upstream body into the envelope shape.
// Valid JSON payloads ride in data as-is; anything else is carried as a
// string. Success tracks the status code.
func wrapBody(status int, body []byte) []byte {
	resp := envelope.Response{
		Success: status < 400,
		Message: http.StatusText(status),
	}

	if len(body) > 0 {
		if json.Valid(body) {
			resp.Data = json.RawMessage(body)
		} else {
			resp.Data = string(body)
		}
	}
	if !resp.Success {
		// Failure envelopes never carry data.
		resp.Data = nil
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"success":false,"message":"Internal Server Error","data":null}`)
	}
	return out
}

// bufferingWriter captures the status code and response body so the
// formatter can decide whether to rewrap the response.
type bufferingWriter struct {
	http.ResponseWriter
	buf         *bytes.Buffer
	statusCode  int
	wroteHeader bool
}

func (w *bufferingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = code
}

func (w *bufferingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.buf.Write(b)
}

func (w *bufferingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

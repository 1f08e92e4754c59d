// Package envelope defines the uniform response shape every gateway response
// is serialized into, whether it came from a matched upstream, an error, or a
// fallback.
package envelope

import (
	"encoding/json"
	"net/http"
)

// Response is the wire envelope: {"success": bool, "message": string, "data": any|null}.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// OK builds a successful envelope around data.
func OK(message string, data interface{}) Response {
	return Response{Success: true, Message: message, Data: data}
}

// Fail builds a failed envelope. Data is always null on failure.
func Fail(message string) Response {
	return Response{Success: false, Message: message, Data: nil}
}

// Write serializes the envelope as JSON with the given status code.
func (r Response) Write(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(r)
}

// IsEnvelope reports whether body already parses as a well-formed envelope.
// Used by the response formatter to avoid double-wrapping upstream services
// that already speak the envelope shape.
func IsEnvelope(body []byte) bool {
	var probe struct {
		Success *bool            `json:"success"`
		Message *string          `json:"message"`
		Data    *json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Success != nil && probe.Message != nil
}

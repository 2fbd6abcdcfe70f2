package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func NewRequestID() string { return "req_" + uuid.NewString() }

// WithRequestID assigns every request an id, reusing a well-formed inbound
// X-Request-Id, and echoes it on the response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id assigned by WithRequestID, or a fresh one.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return NewRequestID()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type ErrorEnvelope struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	id := w.Header().Get(RequestIDHeader)
	if id == "" {
		id = NewRequestID()
	}
	WriteJSON(w, status, ErrorEnvelope{
		RequestID: id,
		Error:     ErrorBody{Code: code, Message: message, Details: details},
	})
}

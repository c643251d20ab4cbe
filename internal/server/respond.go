package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondError writes an error body. 5xx responses are logged at error,
// everything else at debug.
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger := zerolog.Ctx(r.Context())
	evt := logger.Debug()
	if status >= http.StatusInternalServerError {
		evt = logger.Error()
	}
	evt.Int("status_code", status).Str("message", message).Msg("Sending error response")

	respondJSON(w, r, status, errorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// decodeJSON reads a single JSON object of at most maxBytes and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	return nil
}

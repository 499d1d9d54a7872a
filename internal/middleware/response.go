package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/pkg/version"
)

// errorResponse is the body for rejections that never reach a handler:
// panics, timeouts, throttled requests, failed admin auth. Handlers produce
// richer payloads of the same basic shape.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

// writeErrorResponse writes a JSON error body with the given status code.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := errorResponse{
		Status:  "error",
		Message: message,
		Version: version.Full(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("message", message).Msg("Failed to encode middleware error response")
	}
}

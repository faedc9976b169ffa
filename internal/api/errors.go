package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kalambet/reviewdesk/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var body errorBody
	body.Error.Message = fmt.Sprintf(format, args...)
	body.Error.Type = errType
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// APIError is a non-2xx answer from the relay HTTP surface.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("relay api: HTTP %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known error types back to the sentinels they came from.
func (e *APIError) Unwrap() error {
	if e.Type == "cursor_out_of_range" {
		return storage.ErrCursorOutOfRange
	}
	return nil
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"whisperd/internal/queue"
	"whisperd/pkg/types"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// writeAdmissionError maps registry rejections to HTTP status codes.
func writeAdmissionError(w http.ResponseWriter, err error) {
	switch {
	case queue.IsInvalidRequest(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case queue.IsModelUnavailable(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case queue.IsQueueFull(err):
		IncrementBackpressure("queue_full")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case queue.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

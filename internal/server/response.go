package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

// writeError writes the standard JSON error shape.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeValidation writes a 400 with a machine-readable code.
func writeValidation(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"code":    code,
		"message": msg,
	})
}

// writeInternal logs the real error and returns a generic message.
func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.log.Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// handleContextError detects context cancellation, returning true so
// the caller stops processing. It does not write a response; the
// withTimeout middleware produces the 503 and writing here would
// race with its buffered response.
func handleContextError(_ http.ResponseWriter, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// decodeBody parses a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeValidation(w, "invalid_body", "request body is not valid JSON")
		return false
	}
	return true
}

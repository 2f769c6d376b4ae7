// Package handlers provides HTTP handlers for the Answer Engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/altaterra-ai/answer-engine/internal/resolve"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// writeResolveError maps resolution errors onto HTTP status classes.
// Only validation failures echo the error text; everything else gets a
// generic message so upstream internals never reach the client. The
// caller logs the full error.
func writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolve.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input", err.Error())
	case errors.Is(err, resolve.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, resolve.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "model provider unavailable", "")
	case errors.Is(err, resolve.ErrEmptyAnswer):
		writeError(w, http.StatusBadGateway, "model returned an empty answer", "")
	default:
		writeError(w, http.StatusInternalServerError, "resolution failed", "")
	}
}

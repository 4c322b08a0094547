// Package httpx holds small helpers shared by the HTTP handler packages.
package httpx

import (
	"encoding/json"
	"net/http"
)

// HeaderUserID carries the authenticated user identity. Authentication
// itself happens upstream (reverse proxy / session layer); the engine only
// consumes the resolved identity.
const HeaderUserID = "X-User-ID"

// UserID extracts the authenticated user from the request, or "" if absent.
func UserID(r *http.Request) string {
	return r.Header.Get(HeaderUserID)
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, map[string]string{"error": message})
}

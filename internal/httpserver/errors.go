package httpserver

import (
	"encoding/json"
	"net/http"
)

const (
	ErrInvalidJSON  = "invalid json"
	ErrInvalidID    = "invalid id"
	ErrDependency   = "dependency error"
	ErrNotFound     = "not found"
	ErrUnauthorized = "unauthorized"
)

// envelope is the response shape of the reminder and alert endpoints.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// Package handlers implements the HTTP handlers of the playground API.
package handlers

import (
	"encoding/json"
	"net/http"
)

// envelope is the `{success, data|error}` shape every playground route
// answers with.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, envelope{Error: msg})
}

// decodeBody decodes a JSON request body, keeping numbers as json.Number.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	return dec.Decode(dst)
}

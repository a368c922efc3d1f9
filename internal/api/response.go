package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type envelope map[string]any

// Error is the body of every failed response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	var payload any
	switch body.(type) {
	case Error, *Error:
		payload = envelope{"status": "error", "error": body}
	default:
		payload = envelope{"status": "ok", "data": body}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) error {
	w.Header().Set("Cache-Control", "no-store")
	return writeJSON(w, status, Error{
		Code:    code,
		Message: message,
		TraceID: middleware.GetReqID(r.Context()),
	})
}

package apperr

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError responds with the status of err's kind. Unclassified errors
// are reported as a generic 500 so internals do not leak.
func WriteError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	WriteJSON(w, status, errorResponse{Error: msg})
}

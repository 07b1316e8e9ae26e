package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "pingup/internal/errors"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its HTTP status and writes the
// {success:false, message} envelope.
func WriteError(w http.ResponseWriter, err error, requestID string) int {
	status := apperrors.HTTPStatusCode(err)
	_ = WriteJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
	return status
}

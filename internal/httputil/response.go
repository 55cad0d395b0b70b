package httputil

import (
	"encoding/json"
	"net/http"

	"chatbridge/internal/errors"
)

// WriteJSON writes v as a JSON response body with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and writes the standard error body.
// exposeCause attaches the underlying error text for operator endpoints.
func WriteError(w http.ResponseWriter, err error, exposeCause bool) int {
	status := errors.HTTPStatusCode(err)
	_ = WriteJSON(w, status, errors.ToHTTPResponse(err, exposeCause))
	return status
}

// DecodeJSON decodes a request body into v, rejecting bodies over maxBytes
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) error {
	if r.Body == nil {
		return errors.New(errors.ErrCodeInvalidInput, "request body is empty").
			WithUserMessage("Request body is required")
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid JSON body").
			WithUserMessage("Invalid request body")
	}
	return nil
}

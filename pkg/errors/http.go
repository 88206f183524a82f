package errors

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON body written for every rejected request.
type Response struct {
	Code    Code   `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ResponseFor builds the client-facing body for err. Causes and details are
// never included. Errors without a code become a generic internal error.
func ResponseFor(err error) (int, Response) {
	e, ok := AsError(err)
	if !ok {
		e = Internal("an unexpected error occurred")
	}
	return e.HTTPStatus(), Response{
		Code:    e.Code,
		Reason:  e.Reason(),
		Message: e.Message,
	}
}

// WriteHTTP writes err as a JSON rejection with the matching status code.
// Unavailable errors carry a Retry-After hint.
func WriteHTTP(w http.ResponseWriter, err error) {
	status, body := ResponseFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

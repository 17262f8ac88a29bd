package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "service_unavailable"
)

// domainErrors maps receiver sentinels onto HTTP responses. The first
// match wins.
var domainErrors = []struct {
	target error
	status int
	code   string
}{
	{receiver.ErrUnknownDevice, http.StatusNotFound, ErrCodeNotFound},
	{receiver.ErrInvalidCommand, http.StatusUnprocessableEntity, ErrCodeValidation},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // Client may have gone away
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeDomainError writes the mapped response for a known receiver error
// and reports whether err was one. Unknown errors are left to the caller.
func writeDomainError(w http.ResponseWriter, err error) bool {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return true
		}
	}
	return false
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

package api

import (
	"errors"
	"net/http"

	"Provability/internal/logger"
	"Provability/internal/protocol"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	Error     string `json:"error"`
}

// statusOf maps a protocol error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, protocol.ErrBountyNotFound), errors.Is(err, protocol.ErrSubmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrBadSignature):
		return http.StatusUnauthorized
	}

	switch protocol.ClassOf(err) {
	case protocol.ClassValidation:
		return http.StatusBadRequest
	case protocol.ClassState:
		return http.StatusConflict
	case protocol.ClassAuth:
		return http.StatusForbidden
	case protocol.ClassIntegrity, protocol.ClassOutcome:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeProtocolError writes err with its registered code. Unregistered errors are
// logged and reported as internal.
func writeProtocolError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	codespace, code := protocol.CodeOf(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal error"
	}

	writeJSON(w, status, errorBody{Code: code, Codespace: codespace, Error: msg})
}

// writeError writes a transport-level error that has no protocol code.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Code: 1, Error: message})
}

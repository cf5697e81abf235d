package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrPrincipalNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrMissingEmail), errors.Is(err, apperrors.ErrFilterRejected):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrNoSession):
		return http.StatusUnauthorized, "no_session"
	case errors.Is(err, apperrors.ErrNoCredential), errors.Is(err, apperrors.ErrTokenMissing):
		return http.StatusServiceUnavailable, "credential_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// serviceError writes the mapped error response.
func serviceError(w http.ResponseWriter, err error) error {
	status, code := statusForError(err)
	return ErrorResponse(w, status, code, err.Error())
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marketscan/listing-engine/pkg/apperrors"
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

// TranslateError maps a domain error to its HTTP representation. Store
// internals never cross the boundary: anything outside the sentinel taxonomy
// surfaces as a generic store error.
func TranslateError(err error) (statusCode int, errorCode, message string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Listing not found"
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	default:
		return http.StatusInternalServerError, "store_error", "Storage operation failed"
	}
}

package api

import (
	"encoding/json"
	"net/http"

	"similarusers/internal/errors"
)

// ErrorResponse represents an HTTP error response. The Error field carries
// a human-readable message; error-type is the stable tag clients branch on.
type ErrorResponse struct {
	Error     string `json:"Error"`
	ErrorType string `json:"error-type,omitempty"`
}

// WriteServiceError writes a ServiceError with automatic status mapping
func WriteServiceError(w http.ResponseWriter, err *errors.ServiceError) {
	WriteJSON(w, ErrorResponse{
		Error:     err.Message,
		ErrorType: err.Code.Tag(),
	}, MapErrorCodeToStatus(err.Code))
}

// MapErrorCodeToStatus maps service error codes to HTTP status codes
func MapErrorCodeToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.InvalidArgument:
		return http.StatusUnprocessableEntity // 422
	case errors.UserNoAccount, errors.UserNoEdits:
		return http.StatusNotFound // 404
	case errors.UserBot:
		return http.StatusForbidden // 403
	case errors.DatabaseRefresh:
		return http.StatusForbidden // 403
	case errors.UpstreamUnavailable:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// InternalServerError writes a 500 error
func InternalServerError(w http.ResponseWriter, err error) {
	// The underlying error is logged by the caller; only a generic
	// message crosses the wire.
	WriteJSON(w, ErrorResponse{
		Error: "Internal server error",
	}, http.StatusInternalServerError)
}

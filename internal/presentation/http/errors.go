package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gsoc2/novu/internal/domain"
)

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError writes err as a JSON error. Store and internal failures are
// reported with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     "internal_error",
			Message:   "An internal error occurred",
			RequestID: requestID,
		})
		return
	}

	status := domainErr.HTTPStatus()
	message := domainErr.Message
	switch status {
	case http.StatusServiceUnavailable:
		message = "service unavailable"
	case http.StatusInternalServerError:
		message = "An internal error occurred"
	}

	writeJSON(w, status, ErrorResponse{
		Error:     domainErr.Code.String(),
		Code:      domainErr.Code.String(),
		Message:   message,
		RequestID: requestID,
	})
}

// WriteErrorWithStatus writes an error response with a specific status code.
func WriteErrorWithStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// WriteBadRequest writes a 400 Bad Request error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorWithStatus(w, r, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 Unauthorized error response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorWithStatus(w, r, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403 Forbidden error response.
func WriteForbidden(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorWithStatus(w, r, http.StatusForbidden, message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

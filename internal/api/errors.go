package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/microcontroller"
	"github.com/iotzoo/iotzoo-core/internal/reconcile"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest           = "bad_request"
	ErrCodeNotFound             = "not_found"
	ErrCodeConflict             = "conflict"
	ErrCodeInternal             = "internal_error"
	ErrCodeValidation           = "validation_error"
	ErrCodeTransportUnavailable = "transport_unavailable"
	ErrCodeUnavailable          = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorStatus maps domain errors onto a status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reconcile.ErrSessionNotFound),
		errors.Is(err, microcontroller.ErrNotFound),
		errors.Is(err, device.ErrDeviceIndex),
		errors.Is(err, device.ErrPinNotFound):
		return http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, device.ErrValidation),
		errors.Is(err, device.ErrUnknownDeviceType),
		errors.Is(err, device.ErrPinReadOnly),
		errors.Is(err, device.ErrInvalidMicrocontroller),
		errors.Is(err, device.ErrInvalidPayload):
		return http.StatusBadRequest, ErrCodeValidation

	case errors.Is(err, device.ErrConcurrentModification),
		errors.Is(err, reconcile.ErrPushInFlight),
		errors.Is(err, microcontroller.ErrStillReferenced):
		return http.StatusConflict, ErrCodeConflict

	case errors.Is(err, reconcile.ErrTransportUnavailable):
		return http.StatusBadGateway, ErrCodeTransportUnavailable

	case errors.Is(err, reconcile.ErrNoRepository),
		errors.Is(err, reconcile.ErrNoFallback):
		return http.StatusServiceUnavailable, ErrCodeUnavailable

	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError writes err with the status errorStatus assigns to it.
// Internal errors are logged and not echoed to the client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

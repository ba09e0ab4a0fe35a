// Package apperr defines the caller-facing error kinds shared by every
// endpoint and renders them as JSON responses.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// Error is a caller-facing error kind. Domain packages wrap these in their own
// sentinels so handlers can map any failure to a status without importing
// every domain.
type Error struct {
	Code      string
	Status    int
	Retriable bool
	Message   string
}

func (e *Error) Error() string {
	return e.Code
}

var (
	ErrUnauthenticated = &Error{Code: "unauthenticated", Status: http.StatusUnauthorized, Message: "authentication required"}
	ErrForbidden       = &Error{Code: "forbidden", Status: http.StatusForbidden, Message: "not permitted for this resource"}
	ErrNotFound        = &Error{Code: "not_found", Status: http.StatusNotFound, Message: "resource not found"}
	ErrInvalidState    = &Error{Code: "invalid_state", Status: http.StatusConflict, Message: "operation not allowed in the current session state"}
	ErrConflict        = &Error{Code: "conflict", Status: http.StatusConflict, Retriable: true, Message: "session changed concurrently, retry"}
	ErrConsentMissing  = &Error{Code: "consent_missing", Status: http.StatusPreconditionFailed, Message: "AI consent from both parties is required"}
	ErrPatientAccess   = &Error{Code: "patient_access_missing", Status: http.StatusPreconditionFailed, Message: "provision patient access before issuing a link"}
	ErrRateLimited     = &Error{Code: "rate_limited", Status: http.StatusTooManyRequests, Retriable: true, Message: "too many requests, slow down"}

	ErrProviderConfig      = &Error{Code: "provider_config_error", Status: http.StatusServiceUnavailable, Message: "summarization provider is not configured or rejected credentials"}
	ErrProviderModel       = &Error{Code: "provider_model_error", Status: http.StatusBadGateway, Message: "summarization model is unavailable"}
	ErrProviderEmpty       = &Error{Code: "provider_empty_response", Status: http.StatusBadGateway, Retriable: true, Message: "summarization provider returned no content"}
	ErrProviderUnavailable = &Error{Code: "provider_unavailable", Status: http.StatusBadGateway, Retriable: true, Message: "summarization provider failed, try again"}
	ErrProviderTimeout     = &Error{Code: "provider_timeout", Status: http.StatusGatewayTimeout, Retriable: true, Message: "summarization timed out, poll for the result"}
)

// BadRequest returns a 400 kind carrying a caller-safe message.
func BadRequest(msg string) *Error {
	return &Error{Code: "bad_request", Status: http.StatusBadRequest, Message: msg}
}

type body struct {
	Error payload `json:"error"`
}

type payload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// KindOf returns the caller-facing kind of err, or nil for unclassified errors.
func KindOf(err error) *Error {
	var kind *Error
	if errors.As(err, &kind) {
		return kind
	}
	return nil
}

// WriteError renders err. Unclassified errors are logged and reported as 500
// without their text.
func WriteError(w http.ResponseWriter, logger *logging.Logger, err error) {
	kind := KindOf(err)
	if kind == nil {
		if logger != nil {
			logger.Error("unhandled request error", "error", err)
		}
		WriteJSON(w, http.StatusInternalServerError, body{Error: payload{Code: "internal", Message: "internal error"}})
		return
	}
	WriteJSON(w, kind.Status, body{Error: payload{Code: kind.Code, Message: kind.Message, Retriable: kind.Retriable}})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

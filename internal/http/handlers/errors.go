// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics, domain codes name the workflow rule
// that was violated. statusFor maps service sentinels to a status and code so
// every handler reports the same failure the same way.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_alert_transition",
//	  "message": "invalid alert transition: cannot acknowledge a resolved alert"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/tbourn/go-billing-reconciler/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeUnavailable      = "service_unavailable"
	ErrCodeTimeout          = "timeout"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeMalformedEvent         = "malformed_event"
	ErrCodeInvalidConflictAction  = "invalid_conflict_action"
	ErrCodeInvalidConflictRefs    = "invalid_conflict_refs"
	ErrCodeInvalidAlertTransition = "invalid_alert_transition"
	ErrCodeInvalidSuppression     = "invalid_suppression"
)

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrMalformedEvent):
		return http.StatusBadRequest, ErrCodeMalformedEvent
	case errors.Is(err, services.ErrInvalidConflictAction):
		return http.StatusUnprocessableEntity, ErrCodeInvalidConflictAction
	case errors.Is(err, services.ErrInvalidConflictRefs):
		return http.StatusUnprocessableEntity, ErrCodeInvalidConflictRefs
	case errors.Is(err, services.ErrInvalidAlertTransition):
		return http.StatusConflict, ErrCodeInvalidAlertTransition
	case errors.Is(err, services.ErrInvalidSuppression):
		return http.StatusUnprocessableEntity, ErrCodeInvalidSuppression
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeTimeout
	case errors.Is(err, services.ErrTransientStore):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

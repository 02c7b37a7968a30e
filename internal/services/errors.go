// Package services implements the reconciliation engine: the idempotency
// ledger, the webhook event processor, the conflict store and resolver, the
// alert aggregator and the health probes that feed it.
//
// This file centralizes the service-level error values. Handlers translate
// them into HTTP status codes; callers match them with errors.Is.
package services

import (
	"errors"
	"fmt"
)

// Ingestion errors.
var (
	// ErrMalformedEvent is returned when a delivery body cannot be parsed.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownTargetEntity marks a delivery whose payment or subscription
	// does not exist locally. The delivery is skipped, not failed.
	ErrUnknownTargetEntity = errors.New("unknown target entity")

	// ErrTransientStore wraps record store failures that are worth a retry.
	ErrTransientStore = errors.New("transient store error")

	// ErrTimeout is returned when processing exceeds the per-event deadline.
	ErrTimeout = errors.New("timeout")
)

// Workflow errors.
var (
	// ErrNotFound indicates that the requested conflict or alert does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed operator input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConflictAction is returned when a resolution action lacks the
	// references or parameters it needs.
	ErrInvalidConflictAction = errors.New("invalid conflict action")

	// ErrInvalidConflictRefs is returned when a conflict report carries no
	// reference at all.
	ErrInvalidConflictRefs = errors.New("conflict needs at least one reference")

	// ErrInvalidAlertTransition is returned when the alert's current status
	// does not allow the requested operation.
	ErrInvalidAlertTransition = errors.New("invalid alert transition")

	// ErrInvalidSuppression is returned when the suppression end is not in
	// the future.
	ErrInvalidSuppression = errors.New("suppression must end in the future")
)

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

// Package apperr defines the error taxonomy shared by the sync engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrSignature indicates an inbound payload failed authentication and must not be trusted.
	ErrSignature = errors.New("webhook signature invalid")
	// ErrNotConfigured indicates the project has no GitHub integration or secret.
	ErrNotConfigured = errors.New("github integration not configured")
	// ErrUnauthorized indicates the caller does not own the resource.
	ErrUnauthorized = errors.New("caller does not own the resource")
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExternalUnavailable indicates the GitHub API call failed or timed out.
	ErrExternalUnavailable = errors.New("github unavailable")
	// ErrStorage indicates the persistence layer failed; the operation was rolled back.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidPayload indicates a verified payload could not be interpreted.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidTransition indicates the requested status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Storage wraps a persistence error so callers can match ErrStorage while
// keeping the driver error in the chain. Errors already classified pass through.
func Storage(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// External wraps a tracker API error as ErrExternalUnavailable.
func External(err error) error {
	if err == nil || errors.Is(err, ErrExternalUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrExternalUnavailable, err)
}

// Classified reports whether err already carries one of the taxonomy sentinels.
func Classified(err error) bool {
	for _, target := range []error{
		ErrSignature, ErrNotConfigured, ErrUnauthorized, ErrNotFound,
		ErrExternalUnavailable, ErrStorage, ErrInvalidPayload, ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Retryable reports whether an upstream caller may treat err as transient.
// Only storage failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

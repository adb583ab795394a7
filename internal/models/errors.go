package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRecord is returned when a create collides with an existing
	// key. Callers treat it as a successful no-op.
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrVersionConflict is returned when a raw document changed between read and write.
	ErrVersionConflict = errors.New("raw document version conflict")

	// ErrLinkedAccount is returned when deleting a provider account that is still linked.
	ErrLinkedAccount = errors.New("provider account is linked")

	// ErrUnauthorized marks provider authentication failures. It ends the
	// sync and moves the connection to requires_update.
	ErrUnauthorized = errors.New("provider unauthorized")

	// ErrSyncInProgress is returned when a connection is already being synced
	// by this process.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrTransient marks network and rate-limit failures, retried by the job scheduler.
	ErrTransient = errors.New("transient provider error")
)

// Provider error kinds
const (
	ProviderErrorUnauthorized = "unauthorized"
	ProviderErrorTransient    = "transient"
	ProviderErrorFailure      = "failure"
)

// ProviderError is the typed error every provider client call returns.
type ProviderError struct {
	Kind       string
	StatusCode int
	Op         string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel corresponding to the error kind.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == ProviderErrorUnauthorized
	case ErrTransient:
		return e.Kind == ProviderErrorTransient
	}
	return false
}

// IsUnauthorized reports whether err is a provider authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Package common defines shared constants and sentinel errors used across
// client and server layers of gophsync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Local store errors.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrValidation         = errors.New("validation failed")
	ErrDecrypt            = errors.New("decryption failed")

	// Sync errors.
	ErrUnavailable           = errors.New("remote unavailable")
	ErrConflict              = errors.New("remote collection modified concurrently")
	ErrInterrupted           = errors.New("sync interrupted")
	ErrSyncInProgress        = errors.New("sync already in progress")
	ErrClientUpgradeRequired = errors.New("client upgrade required")
)

// InvariantError reports a write that would break one of the cross-table
// rules of the local store. It is never retried.
type InvariantError struct {
	Invariant string
	Table     string
	GUID      string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %q violated in %s for guid %q", e.Invariant, e.Table, e.GUID)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// ValidationError reports a record rejected before it reached storage.
type ValidationError struct {
	GUID   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %q: %s", e.GUID, e.Reason)
	}
	return fmt.Sprintf("record %q field %s: %s", e.GUID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

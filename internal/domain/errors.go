package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrTransientUpstream   = errors.New("upstream temporarily unreachable")
	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrNotFound            = errors.New("not found")
	ErrRegistryUnavailable = errors.New("pair registry unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSigningFailed       = errors.New("signing failed")
)

// ValidationError describes a malformed or missing request parameter. It is
// never retried and matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UpstreamError is returned once the retry budget for an aggregator call is
// exhausted. It matches ErrTransientUpstream and unwraps to the last cause.
type UpstreamError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream unreachable after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransientUpstream) match.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrTransientUpstream
}

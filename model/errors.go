package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds forming the error taxonomy of the core. Handlers and
// stores wrap these with fmt.Errorf("...: %w", ErrX) so callers can match
// with errors.Is while still getting a human-readable message.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUnknownScheme  = errors.New("unknown scheme")
	ErrSourceFailure  = errors.New("source failure")
	ErrStorageFailure = errors.New("storage failure")
	ErrCancelled      = errors.New("cancelled")
)

// DenylistMatchError reports that an artifact's resolved path matched a
// denylist glob and was rejected before it was ever stored.
type DenylistMatchError struct {
	Pattern string
	Path    string
}

func (e *DenylistMatchError) Error() string {
	return fmt.Sprintf("file '%s' denied by pattern '%s'", e.Path, e.Pattern)
}

// UnknownSchemeError names the offending scheme.
type UnknownSchemeError struct {
	Scheme string
}

func (e *UnknownSchemeError) Error() string {
	return fmt.Sprintf("unknown scheme: %q", e.Scheme)
}

func (e *UnknownSchemeError) Unwrap() error { return ErrUnknownScheme }

// SourceFailureError carries a human-readable detail about why a handler
// failed to load or expand an artifact.
type SourceFailureError struct {
	URI    string
	Detail string
	Err    error
}

func (e *SourceFailureError) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("source '%s': %s", e.URI, e.Detail)
	}
	return e.Detail
}

func (e *SourceFailureError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSourceFailure
}

// Is makes every SourceFailureError match ErrSourceFailure, including one
// that also wraps an underlying cause.
func (e *SourceFailureError) Is(target error) bool { return target == ErrSourceFailure }

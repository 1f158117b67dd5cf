package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrVersionConflict   = errors.New("version conflict")
	ErrDuplicateContent  = errors.New("duplicate content")
	ErrPipelineFailure   = errors.New("enrichment pipeline failure")
	ErrPersistence       = errors.New("persistence failure")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrRetryExhausted    = errors.New("retry attempts exhausted")

	ErrAssetNotFound   = fmt.Errorf("asset %w", ErrNotFound)
	ErrVersionNotFound = fmt.Errorf("version %w", ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ConflictError is returned when a caller presents a stale version token.
// The caller's patch is never applied when this error is returned.
type ConflictError struct {
	AssetID          string
	YourVersionID    string
	CurrentVersionID string
	CurrentVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"version conflict on asset %s: your version %s, current version %s (v%d)",
		e.AssetID, e.YourVersionID, e.CurrentVersionID, e.CurrentVersion,
	)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// AsConflict extracts the conflict details from err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

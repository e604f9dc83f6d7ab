package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Domain error kinds. Callers match with errors.Is; raw database errors
// never cross the store boundary.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint was violated, usually
	// signalling a concurrent write of the same logical row.
	ErrConflict = errors.New("conflict")

	// ErrValidation means the input failed a length, format, or
	// consistency constraint.
	ErrValidation = errors.New("validation failed")

	// ErrCapacityExceeded means a workspace quota would be exceeded.
	// This is an expected business condition, not a failure.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrUnauthorized means key verification failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorageUnavailable means the object storage backend failed.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// translate maps gorm errors onto the domain kinds. The gorm config has
// TranslateError enabled, so dialect-specific unique violations surface
// as gorm.ErrDuplicatedKey on both sqlite and postgres.
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a record with the same identity already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record breaks a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a record references missing rows.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrStaleWrite is returned when a meeting changed after the version being written was read.
	ErrStaleWrite = errors.New("persistence: meeting changed since it was read")
)

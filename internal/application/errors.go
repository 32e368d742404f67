package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a unique resource such as an email is already taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrConflict is matched by errors.Is against any *ConflictError.
	ErrConflict = errors.New("application: scheduling conflict")
	// ErrInvalidTransition is returned when a meeting cannot move to the requested status.
	ErrInvalidTransition = errors.New("application: invalid status transition")
	// ErrInvalidCredentials is returned when an email and password pair does not match.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrSessionExpired is returned when an access token is past its expiry.
	ErrSessionExpired = errors.New("application: session expired")
	// ErrSessionRevoked is returned when an access token was revoked by logout.
	ErrSessionRevoked = errors.New("application: session revoked")
	// ErrInvalidResetCode is returned when a password reset code is unknown, expired or wrong.
	ErrInvalidResetCode = errors.New("application: invalid reset code")
	// ErrConcurrentUpdate is returned when a meeting kept changing underneath a write.
	ErrConcurrentUpdate = errors.New("application: meeting changed concurrently")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	return "validation failed: " + v.Summary()
}

// Summary joins the field messages in field order.
func (v *ValidationError) Summary() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return ""
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, v.FieldErrors[field])
	}
	return strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func newValidationError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// ConflictError lists every existing meeting that blocks a requested time slot.
type ConflictError struct {
	Conflicts []Meeting
}

// Error implements the error interface.
func (c *ConflictError) Error() string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("scheduling conflict with %d meeting(s)", len(c.Conflicts))
}

// Is lets errors.Is(err, ErrConflict) match conflict errors.
func (c *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// RepositoryError wraps an unexpected storage or directory failure.
type RepositoryError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (r *RepositoryError) Error() string {
	if r == nil {
		return ""
	}
	if r.Op == "" {
		return fmt.Sprintf("repository failure: %v", r.Err)
	}
	return fmt.Sprintf("repository failure during %s: %v", r.Op, r.Err)
}

// Unwrap exposes the underlying cause.
func (r *RepositoryError) Unwrap() error {
	if r == nil {
		return nil
	}
	return r.Err
}

package gkey

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrKeyUnavailable means another campaign holds the lock.
	ErrKeyUnavailable = errors.New("g-key is already in use by another campaign")
	// ErrKeyInCooloff means the key is cooling off after a campaign with a different brand.
	ErrKeyInCooloff = errors.New("g-key is in cooloff after a campaign with another brand")
	ErrKeyNotFound  = errors.New("g-key not found")
	ErrKeyNotLocked = errors.New("g-key is not locked by this campaign")
	ErrInvalidInput = errors.New("invalid g-key request")
	// ErrConflict means the key changed between the read and the conditional write.
	ErrConflict = errors.New("g-key was modified concurrently")
)

// CooloffError is returned when a different brand tries to acquire a cooling key.
// It matches ErrKeyInCooloff with errors.Is.
type CooloffError struct {
	Category string
	EndsAt   time.Time
}

func (e *CooloffError) Error() string {
	return fmt.Sprintf("%s: %q until %s", ErrKeyInCooloff, e.Category, e.EndsAt.UTC().Format(time.RFC3339))
}

func (e *CooloffError) Unwrap() error {
	return ErrKeyInCooloff
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

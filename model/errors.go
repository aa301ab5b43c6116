package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned before any write when a request is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfirmationDeclined is returned when a moderator cancels, or does not answer, a duplicate prompt.
	ErrConfirmationDeclined = errors.New("confirmation declined")
)

// PlatformError reports a failed call to the chat platform. The ledger write that
// preceded it stands.
type PlatformError struct {
	Op      string
	GuildID string
	UserID  string
	Err     error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s failed for user %s in guild %s: %v", e.Op, e.UserID, e.GuildID, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Invalid builds an ErrInvalidArgument with context.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

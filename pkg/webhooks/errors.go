package webhooks

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an endpoint, event, or delivery does not exist
var ErrNotFound = errors.New("not found")

// ErrTerminalState is returned when a transition is attempted on a delivery
// already in a terminal state
var ErrTerminalState = errors.New("delivery is in a terminal state")

// ValidationError reports malformed registration input. It is returned
// synchronously and nothing is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

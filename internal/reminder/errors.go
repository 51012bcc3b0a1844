package reminder

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("reminder: task not found")

// ValidationError rejects a create request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

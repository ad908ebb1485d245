// internal/position/errors.go
package position

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("position not found")
	ErrInvalidFill = errors.New("invalid fill")
)

// InvariantViolation is raised (as a panic) when code attempts a
// transition the lifecycle forbids. It is never returned as an error.
type InvariantViolation struct {
	PositionID string
	From       State
	Op         string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s on position %s in terminal state %s", e.Op, e.PositionID, e.From)
}

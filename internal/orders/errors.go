package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotCompleted guards deletion: only COMPLETED orders may be removed.
	ErrNotCompleted = errors.New("order is not completed")

	ErrInvalidInput = errors.New("invalid input")
)

// IllegalTransitionError rejects a status change that is not an edge of the
// lifecycle graph.
type IllegalTransitionError struct {
	From, To Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

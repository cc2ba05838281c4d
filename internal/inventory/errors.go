package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound = errors.New("product not found")

	ErrBadQuantity = errors.New("quantity must be positive")

	// ErrTimeout reports an inventory call that exceeded its deadline. The
	// caller may retry the whole placement: it is idempotent per external id.
	ErrTimeout = errors.New("inventory upstream timeout")

	// ErrOrderClosed refuses a reserve for an order whose reservations were
	// already released, by cancellation or by compensation.
	ErrOrderClosed = errors.New("order closed to reservations")
)

// InsufficientStockError is always surfaced to the caller, never silently
// retried; it names the product and the available vs requested quantities.
type InsufficientStockError struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

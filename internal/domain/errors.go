package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Reconciliation error kinds. None of them should stop the hosting loop.
var (
	ErrConfigurationMissing = errors.New("asset configuration missing")
	ErrCycleNotFound        = errors.New("no cycle tracks this order")
	ErrInvalidFillData      = errors.New("invalid fill data")
	ErrStaleOrderMismatch   = errors.New("order no longer pending on cycle")
	ErrExchangeUnavailable  = errors.New("exchange unavailable")
)

// ErrOrderNotFound is returned by exchange adapters for unknown client order ids.
var ErrOrderNotFound = errors.New("order not found on exchange")

// ReconciliationError reports why an order event could not be folded into a cycle.
type ReconciliationError struct {
	Kind    error
	OrderID string
	Cause   error
}

func (e *ReconciliationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reconcile order %s: %v: %v", e.OrderID, e.Kind, e.Cause)
	}
	return fmt.Sprintf("reconcile order %s: %v", e.OrderID, e.Kind)
}

// Unwrap exposes the kind to errors.Is.
func (e *ReconciliationError) Unwrap() error {
	return e.Kind
}

// NewReconciliationError builds a ReconciliationError of the given kind.
func NewReconciliationError(kind error, orderID string, cause error) *ReconciliationError {
	return &ReconciliationError{Kind: kind, OrderID: orderID, Cause: cause}
}

package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// CycleStatus is the lifecycle state of a Cycle.
type CycleStatus string

const (
	CycleStatusWatching CycleStatus = "watching"
	CycleStatusBuying   CycleStatus = "buying"
	CycleStatusSelling  CycleStatus = "selling"
	CycleStatusTrailing CycleStatus = "trailing"
	CycleStatusCooldown CycleStatus = "cooldown"
	CycleStatusComplete CycleStatus = "complete"
	CycleStatusError    CycleStatus = "error"
)

// Valid reports whether s is a known status.
func (s CycleStatus) Valid() bool {
	switch s {
	case CycleStatusWatching, CycleStatusBuying, CycleStatusSelling, CycleStatusTrailing,
		CycleStatusCooldown, CycleStatusComplete, CycleStatusError:
		return true
	}
	return false
}

// Terminal reports whether a cycle in this status is immutable history.
func (s CycleStatus) Terminal() bool {
	return s == CycleStatusComplete || s == CycleStatusError
}

// Cycle is one DCA attempt for one asset.
type Cycle struct {
	ID      int64
	AssetID int64
	Status  CycleStatus

	Quantity             decimal.Decimal
	AveragePurchasePrice decimal.Decimal
	SafetyOrders         int

	// LatestOrderID is empty when no order is outstanding.
	LatestOrderID        string
	LatestOrderCreatedAt *time.Time

	LastOrderFillPrice   decimal.NullDecimal
	HighestTrailingPrice decimal.NullDecimal
	SellPrice            decimal.NullDecimal

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// HasPendingOrder reports whether the cycle references an outstanding order.
func (c *Cycle) HasPendingOrder() bool {
	return c != nil && c.LatestOrderID != ""
}

// HasPosition reports whether the cycle holds base units.
func (c *Cycle) HasPosition() bool {
	return c != nil && c.Quantity.IsPositive()
}

// RealizedPnL is quantitySold * (sellPrice - averagePurchasePrice).
func (c *Cycle) RealizedPnL(quantitySold decimal.Decimal) decimal.Decimal {
	if c == nil || !c.SellPrice.Valid {
		return decimal.Zero
	}
	return quantitySold.Mul(c.SellPrice.Decimal.Sub(c.AveragePurchasePrice))
}

// Validate checks the quantity/price/status invariants of a cycle.
// maxSafetyOrders < 0 skips the safety-order cap check.
func (c *Cycle) Validate(maxSafetyOrders int) error {
	if !c.Status.Valid() {
		return errors.Errorf("unknown cycle status %q", c.Status)
	}
	if c.Quantity.IsNegative() {
		return errors.Errorf("quantity must not be negative, got %s", c.Quantity.String())
	}
	if c.SafetyOrders < 0 {
		return errors.Errorf("safety orders must not be negative, got %d", c.SafetyOrders)
	}

	if c.Quantity.IsZero() {
		if c.Status == CycleStatusSelling || c.Status == CycleStatusTrailing {
			return errors.Errorf("cycle in %s holds no position", c.Status)
		}
		// complete/error keep the average price as historical record
		if !c.Status.Terminal() && (!c.AveragePurchasePrice.IsZero() || c.SafetyOrders != 0) {
			return errors.Errorf("empty cycle carries avg price %s and %d safety orders",
				c.AveragePurchasePrice.String(), c.SafetyOrders)
		}
	}

	if c.LatestOrderID != "" && c.Status != CycleStatusBuying && c.Status != CycleStatusSelling {
		return errors.Errorf("order %s is linked to a cycle in %s", c.LatestOrderID, c.Status)
	}

	if maxSafetyOrders >= 0 && c.SafetyOrders > maxSafetyOrders {
		return errors.Errorf("safety orders %d exceed cap %d", c.SafetyOrders, maxSafetyOrders)
	}

	return nil
}

// NewCycleParams holds the initial field values of a new cycle.
// Zero values are the defaults: no position, no pending order.
type NewCycleParams struct {
	AssetID              int64
	Status               CycleStatus
	Quantity             decimal.Decimal
	AveragePurchasePrice decimal.Decimal
	SafetyOrders         int
	LatestOrderID        string
	LatestOrderCreatedAt *time.Time
	LastOrderFillPrice   decimal.NullDecimal
	CompletedAt          *time.Time
}

// NextCycleStatus returns the status of the cycle that follows a completed one.
func NextCycleStatus(cooldown time.Duration) CycleStatus {
	if cooldown > 0 {
		return CycleStatusCooldown
	}
	return CycleStatusWatching
}

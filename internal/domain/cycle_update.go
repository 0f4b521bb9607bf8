package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleUpdate is a typed partial update of a Cycle row.
// Nil fields are left untouched.
type CycleUpdate struct {
	Status               *CycleStatus
	Quantity             *decimal.Decimal
	AveragePurchasePrice *decimal.Decimal
	SafetyOrders         *int

	LatestOrderID        *string
	LatestOrderCreatedAt *time.Time
	ResetLatestOrder     bool

	LastOrderFillPrice        *decimal.Decimal
	HighestTrailingPrice      *decimal.Decimal
	ResetHighestTrailingPrice bool

	SellPrice   *decimal.Decimal
	CompletedAt *time.Time
}

// NewCycleUpdate returns an empty update.
func NewCycleUpdate() *CycleUpdate {
	return &CycleUpdate{}
}

func (u *CycleUpdate) SetStatus(s CycleStatus) *CycleUpdate {
	u.Status = &s
	return u
}

func (u *CycleUpdate) SetQuantity(q decimal.Decimal) *CycleUpdate {
	u.Quantity = &q
	return u
}

func (u *CycleUpdate) SetAveragePurchasePrice(p decimal.Decimal) *CycleUpdate {
	u.AveragePurchasePrice = &p
	return u
}

func (u *CycleUpdate) SetSafetyOrders(n int) *CycleUpdate {
	u.SafetyOrders = &n
	return u
}

// SetLatestOrder links an outstanding order to the cycle.
func (u *CycleUpdate) SetLatestOrder(orderID string, createdAt time.Time) *CycleUpdate {
	u.LatestOrderID = &orderID
	u.LatestOrderCreatedAt = &createdAt
	u.ResetLatestOrder = false
	return u
}

// ClearLatestOrder unlinks the outstanding order.
func (u *CycleUpdate) ClearLatestOrder() *CycleUpdate {
	u.LatestOrderID = nil
	u.LatestOrderCreatedAt = nil
	u.ResetLatestOrder = true
	return u
}

func (u *CycleUpdate) SetLastOrderFillPrice(p decimal.Decimal) *CycleUpdate {
	u.LastOrderFillPrice = &p
	return u
}

func (u *CycleUpdate) SetHighestTrailingPrice(p decimal.Decimal) *CycleUpdate {
	u.HighestTrailingPrice = &p
	u.ResetHighestTrailingPrice = false
	return u
}

func (u *CycleUpdate) ClearHighestTrailingPrice() *CycleUpdate {
	u.HighestTrailingPrice = nil
	u.ResetHighestTrailingPrice = true
	return u
}

func (u *CycleUpdate) SetSellPrice(p decimal.Decimal) *CycleUpdate {
	u.SellPrice = &p
	return u
}

func (u *CycleUpdate) SetCompletedAt(t time.Time) *CycleUpdate {
	u.CompletedAt = &t
	return u
}

// IsEmpty reports whether the update changes nothing.
func (u *CycleUpdate) IsEmpty() bool {
	if u == nil {
		return true
	}
	return u.Status == nil && u.Quantity == nil && u.AveragePurchasePrice == nil && u.SafetyOrders == nil &&
		u.LatestOrderID == nil && u.LatestOrderCreatedAt == nil && !u.ResetLatestOrder &&
		u.LastOrderFillPrice == nil && u.HighestTrailingPrice == nil && !u.ResetHighestTrailingPrice &&
		u.SellPrice == nil && u.CompletedAt == nil
}

// Apply returns a copy of c with the update applied.
func (u *CycleUpdate) Apply(c Cycle) Cycle {
	if u == nil {
		return c
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.Quantity != nil {
		c.Quantity = *u.Quantity
	}
	if u.AveragePurchasePrice != nil {
		c.AveragePurchasePrice = *u.AveragePurchasePrice
	}
	if u.SafetyOrders != nil {
		c.SafetyOrders = *u.SafetyOrders
	}
	if u.ResetLatestOrder {
		c.LatestOrderID = ""
		c.LatestOrderCreatedAt = nil
	}
	if u.LatestOrderID != nil {
		c.LatestOrderID = *u.LatestOrderID
	}
	if u.LatestOrderCreatedAt != nil {
		t := *u.LatestOrderCreatedAt
		c.LatestOrderCreatedAt = &t
	}
	if u.LastOrderFillPrice != nil {
		c.LastOrderFillPrice = decimal.NewNullDecimal(*u.LastOrderFillPrice)
	}
	if u.ResetHighestTrailingPrice {
		c.HighestTrailingPrice = decimal.NullDecimal{}
	}
	if u.HighestTrailingPrice != nil {
		c.HighestTrailingPrice = decimal.NewNullDecimal(*u.HighestTrailingPrice)
	}
	if u.SellPrice != nil {
		c.SellPrice = decimal.NewNullDecimal(*u.SellPrice)
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// CycleCondition guards an update: it applies only when the stored row still matches.
type CycleCondition struct {
	Status        *CycleStatus
	LatestOrderID *string
}

// WhenStatus builds a condition on the current status.
func WhenStatus(s CycleStatus) *CycleCondition {
	return &CycleCondition{Status: &s}
}

// WhenLatestOrder builds a condition on the linked order id.
func WhenLatestOrder(orderID string) *CycleCondition {
	return &CycleCondition{LatestOrderID: &orderID}
}

// Matches reports whether c satisfies the condition.
func (cond *CycleCondition) Matches(c Cycle) bool {
	if cond == nil {
		return true
	}
	if cond.Status != nil && c.Status != *cond.Status {
		return false
	}
	if cond.LatestOrderID != nil && c.LatestOrderID != *cond.LatestOrderID {
		return false
	}
	return true
}

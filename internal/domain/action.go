package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderRole tells which step of the cycle an order belongs to.
type OrderRole string

const (
	OrderRoleBase       OrderRole = "base"
	OrderRoleSafety     OrderRole = "safety"
	OrderRoleTakeProfit OrderRole = "take_profit"
)

// OrderIntent describes a single order the strategy wants placed.
type OrderIntent struct {
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Role     OrderRole
	Quantity decimal.Decimal
	// LimitPrice is zero for market orders.
	LimitPrice decimal.Decimal
}

// String returns a human-readable string representation.
func (o OrderIntent) String() string {
	if o.Type == OrderTypeMarket {
		return fmt.Sprintf("%s %s %s %s qty %s", o.Symbol, o.Role, o.Side, o.Type, o.Quantity.String())
	}

	return fmt.Sprintf("%s %s %s %s qty %s @ %s", o.Symbol, o.Role, o.Side, o.Type, o.Quantity.String(), o.LimitPrice.String())
}

// TTPUpdate moves the trailing take-profit high-water mark.
type TTPUpdate struct {
	HighestTrailingPrice decimal.Decimal
	// Arm is set on the tick that first crosses the take-profit threshold.
	Arm bool
}

// StrategyAction is the single outcome of a decision function.
type StrategyAction struct {
	Order       *OrderIntent
	CycleUpdate *CycleUpdate
	TTP         *TTPUpdate
	Reason      string
}

// PersistedUpdate merges the cycle and trailing intents into one store update.
func (a *StrategyAction) PersistedUpdate() *CycleUpdate {
	if a == nil {
		return nil
	}

	upd := NewCycleUpdate()
	if a.CycleUpdate != nil {
		*upd = *a.CycleUpdate
	}
	if a.TTP != nil {
		upd.SetHighestTrailingPrice(a.TTP.HighestTrailingPrice)
	}

	return upd
}

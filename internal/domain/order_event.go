package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEventKind is the lifecycle state reported by the exchange for an order.
type OrderEventKind string

const (
	OrderEventNew             OrderEventKind = "new"
	OrderEventPartiallyFilled OrderEventKind = "partially_filled"
	OrderEventFilled          OrderEventKind = "filled"
	OrderEventCanceled        OrderEventKind = "canceled"
	OrderEventRejected        OrderEventKind = "rejected"
	OrderEventExpired         OrderEventKind = "expired"
)

// Terminal reports whether no further executions can happen.
func (k OrderEventKind) Terminal() bool {
	switch k {
	case OrderEventFilled, OrderEventCanceled, OrderEventRejected, OrderEventExpired:
		return true
	}
	return false
}

// OrderEvent is a snapshot of an order's execution state.
type OrderEvent struct {
	// OrderID is the client order id the cycle tracks.
	OrderID         string
	Symbol          string
	Side            OrderSide
	Kind            OrderEventKind
	OrderedQuantity decimal.Decimal
	FilledQuantity  decimal.Decimal
	// FillPrice is the average execution price, zero when nothing executed.
	FillPrice decimal.Decimal
	Timestamp time.Time
}

package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Position is a live spot holding as reported by the exchange.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
	// AvgEntryPrice is zero when the exchange cannot report it.
	AvgEntryPrice decimal.Decimal
	UpdatedAt     time.Time
}

// NewPositionFromExternalSnapshot builds a position from an exchange balance snapshot.
func NewPositionFromExternalSnapshot(symbol string, quantity, avgEntryPrice decimal.Decimal, at time.Time) (*Position, error) {
	if quantity.IsNegative() {
		return nil, errors.New("position quantity must not be negative")
	}
	if avgEntryPrice.IsNegative() {
		return nil, errors.New("entry price must not be negative")
	}

	return &Position{
		Symbol:        symbol,
		Quantity:      quantity,
		AvgEntryPrice: avgEntryPrice,
		UpdatedAt:     at,
	}, nil
}

// IsNegligible reports whether the holding is below the minimum tradable quantity.
// Without a minimum only an empty holding is negligible.
func (p *Position) IsNegligible(minOrderQuantity decimal.Decimal) bool {
	if p == nil {
		return true
	}
	if minOrderQuantity.IsPositive() {
		return p.Quantity.LessThan(minOrderQuantity)
	}
	return !p.Quantity.IsPositive()
}

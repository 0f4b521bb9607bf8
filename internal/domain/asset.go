package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// AssetConfig holds the per-asset trading parameters.
type AssetConfig struct {
	ID        int64
	Symbol    string
	IsEnabled bool

	// BaseOrderAmount and SafetyOrderAmount are quote-currency amounts.
	BaseOrderAmount   decimal.Decimal
	SafetyOrderAmount decimal.Decimal

	MaxSafetyOrders int
	// SafetyOrderDeviation is the percent drop from the last buy fill that triggers a safety order.
	SafetyOrderDeviation decimal.Decimal

	TakeProfitPercent   decimal.Decimal
	TTPEnabled          bool
	TTPDeviationPercent decimal.Decimal

	CooldownPeriod time.Duration
	LastSellPrice  decimal.NullDecimal

	// MinOrderQuantity is the exchange minimum tradable base quantity for the symbol.
	MinOrderQuantity decimal.Decimal
	// QuantityStep is the exchange lot step; zero keeps full precision.
	QuantityStep decimal.Decimal
	// PriceStep is the exchange price tick; zero keeps full precision.
	PriceStep decimal.Decimal
}

// Validate checks the static parameters of an asset.
func (a AssetConfig) Validate() error {
	if _, err := ParsePair(a.Symbol); err != nil {
		return err
	}
	if !a.BaseOrderAmount.IsPositive() {
		return errors.Errorf("%s: base_order_amount must be positive, got %s", a.Symbol, a.BaseOrderAmount.String())
	}
	if a.SafetyOrderAmount.IsNegative() {
		return errors.Errorf("%s: safety_order_amount must not be negative, got %s", a.Symbol, a.SafetyOrderAmount.String())
	}
	if a.MaxSafetyOrders < 0 {
		return errors.Errorf("%s: max_safety_orders must be >= 0, got %d", a.Symbol, a.MaxSafetyOrders)
	}
	if a.MaxSafetyOrders > 0 {
		if !a.SafetyOrderAmount.IsPositive() {
			return errors.Errorf("%s: safety_order_amount must be positive when safety orders are enabled", a.Symbol)
		}
		if !a.SafetyOrderDeviation.IsPositive() {
			return errors.Errorf("%s: safety_order_deviation must be positive, got %s", a.Symbol, a.SafetyOrderDeviation.String())
		}
	}
	if !a.TakeProfitPercent.IsPositive() {
		return errors.Errorf("%s: take_profit_percent must be positive, got %s", a.Symbol, a.TakeProfitPercent.String())
	}
	if a.TTPEnabled && (!a.TTPDeviationPercent.IsPositive() || a.TTPDeviationPercent.GreaterThanOrEqual(decimal.NewFromInt(percentageMultiplier))) {
		return errors.Errorf("%s: ttp_deviation_percent must be in (0, 100), got %s", a.Symbol, a.TTPDeviationPercent.String())
	}
	if a.CooldownPeriod < 0 {
		return errors.Errorf("%s: cooldown_period must not be negative", a.Symbol)
	}
	if a.MinOrderQuantity.IsNegative() || a.QuantityStep.IsNegative() || a.PriceStep.IsNegative() {
		return errors.Errorf("%s: min_order_quantity, quantity_step and price_step must not be negative", a.Symbol)
	}
	return nil
}

// AssetConfigUpdate is a typed partial update of an AssetConfig row.
type AssetConfigUpdate struct {
	IsEnabled     *bool
	LastSellPrice *decimal.Decimal
}

func (u *AssetConfigUpdate) SetEnabled(enabled bool) *AssetConfigUpdate {
	u.IsEnabled = &enabled
	return u
}

func (u *AssetConfigUpdate) SetLastSellPrice(p decimal.Decimal) *AssetConfigUpdate {
	u.LastSellPrice = &p
	return u
}

// IsEmpty reports whether the update changes nothing.
func (u *AssetConfigUpdate) IsEmpty() bool {
	return u == nil || (u.IsEnabled == nil && u.LastSellPrice == nil)
}

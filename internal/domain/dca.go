package domain

import (
	"github.com/shopspring/decimal"
)

const percentageMultiplier = 100

var hundred = decimal.NewFromInt(percentageMultiplier)

// DropThreshold returns reference * (1 - percent/100).
func DropThreshold(reference, percent decimal.Decimal) decimal.Decimal {
	return reference.Mul(decimal.NewFromInt(1).Sub(percent.Div(hundred)))
}

// RiseThreshold returns reference * (1 + percent/100).
func RiseThreshold(reference, percent decimal.Decimal) decimal.Decimal {
	return reference.Mul(decimal.NewFromInt(1).Add(percent.Div(hundred)))
}

// PercentageDiff returns percentage difference between current and reference values.
func PercentageDiff(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).Div(reference).Mul(hundred)
}

// QuantityForAmount converts a quote amount into base units at price,
// rounded down to the exchange lot step when one is set.
func QuantityForAmount(amount, price, step decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return RoundToStep(amount.Div(price), step)
}

// RoundToStep floors q to a multiple of step. A non-positive step leaves q as is.
func RoundToStep(q, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}

// WeightedAverage folds a new fill into an existing average price.
func WeightedAverage(heldQty, heldAvg, fillQty, fillPrice decimal.Decimal) decimal.Decimal {
	if heldQty.IsZero() {
		return fillPrice
	}
	total := heldQty.Add(fillQty)
	if total.IsZero() {
		return decimal.Zero
	}
	return heldAvg.Mul(heldQty).Add(fillPrice.Mul(fillQty)).Div(total)
}

// BuyFillUpdate computes the cycle update for a completed buy.
// A fill on a cycle that already held quantity counts as a safety order.
func BuyFillUpdate(c Cycle, fillQty, fillPrice decimal.Decimal) *CycleUpdate {
	newQty := c.Quantity.Add(fillQty)
	newAvg := WeightedAverage(c.Quantity, c.AveragePurchasePrice, fillQty, fillPrice)

	upd := NewCycleUpdate().
		SetQuantity(newQty).
		SetAveragePurchasePrice(newAvg).
		SetLastOrderFillPrice(fillPrice).
		SetStatus(CycleStatusWatching).
		ClearLatestOrder()

	if c.Quantity.IsPositive() {
		upd.SetSafetyOrders(c.SafetyOrders + 1)
	}

	return upd
}

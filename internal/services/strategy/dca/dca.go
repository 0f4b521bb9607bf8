// Package dca implements the Dollar-Cost Averaging cycle strategy: the pure decision
// engine lives here, fill and cancellation reconciliation in reconciliation.go.
package dca

import (
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const percentageMultiplier = 100

// decision reasons
const (
	reasonBaseOrder   = "base_order"
	reasonSafetyOrder = "safety_order"
	reasonTakeProfit  = "take_profit"
	reasonTTPArmed    = "ttp_armed"
	reasonTTPAnchor   = "ttp_anchor"
	reasonTTPRaised   = "ttp_raised"
	reasonTTPStop     = "ttp_stop"
)

// Engine decides the next action for a cycle from a market tick.
// It performs no I/O and keeps no state between calls, so live and simulated callers share it.
type Engine struct {
	pricing PricingPolicy
}

// Option configures the Engine.
type Option func(*Engine)

// WithPricingPolicy sets the limit-price policy for buy orders.
func WithPricingPolicy(p PricingPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.pricing = p
		}
	}
}

// NewEngine returns an engine that bids the ask unless another policy is given.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{pricing: MarketPricing{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs the base, safety and take-profit decisions in order and returns the first hit.
func (e *Engine) Decide(tick domain.MarketTick, asset domain.AssetConfig, cycle domain.Cycle, exchangePosition *domain.Position) *domain.StrategyAction {
	if a := e.DecideBaseOrder(tick, asset, cycle, exchangePosition); a != nil {
		return a
	}
	if a := e.DecideSafetyOrder(tick, asset, cycle); a != nil {
		return a
	}
	return e.DecideTakeProfit(tick, asset, cycle)
}

// DecideBaseOrder opens a position on an empty watching cycle.
// exchangePosition, when known, blocks a duplicate base order if the exchange
// already holds at least the minimum tradable quantity.
func (e *Engine) DecideBaseOrder(tick domain.MarketTick, asset domain.AssetConfig, cycle domain.Cycle, exchangePosition *domain.Position) *domain.StrategyAction {
	if !tradable(tick, asset) {
		return nil
	}
	if cycle.Status != domain.CycleStatusWatching || !cycle.Quantity.IsZero() {
		return nil
	}
	if !tick.AskPrice.IsPositive() {
		return nil
	}
	if !exchangePosition.IsNegligible(asset.MinOrderQuantity) {
		return nil
	}

	order := e.buyIntent(tick, asset, asset.BaseOrderAmount, domain.OrderRoleBase)
	if order == nil {
		return nil
	}

	return &domain.StrategyAction{
		Order:       order,
		CycleUpdate: domain.NewCycleUpdate().SetStatus(domain.CycleStatusBuying),
		Reason:      reasonBaseOrder,
	}
}

// DecideSafetyOrder averages down once the ask falls safety_order_deviation percent
// below the last buy fill. A price exactly on the threshold triggers.
func (e *Engine) DecideSafetyOrder(tick domain.MarketTick, asset domain.AssetConfig, cycle domain.Cycle) *domain.StrategyAction {
	if !tradable(tick, asset) {
		return nil
	}
	if cycle.Status != domain.CycleStatusWatching || !cycle.Quantity.IsPositive() {
		return nil
	}
	if cycle.SafetyOrders >= asset.MaxSafetyOrders {
		return nil
	}
	if !cycle.LastOrderFillPrice.Valid || !cycle.LastOrderFillPrice.Decimal.IsPositive() {
		return nil
	}
	if !tick.AskPrice.IsPositive() {
		return nil
	}

	trigger := domain.DropThreshold(cycle.LastOrderFillPrice.Decimal, asset.SafetyOrderDeviation)
	if tick.AskPrice.GreaterThan(trigger) {
		return nil
	}

	order := e.buyIntent(tick, asset, asset.SafetyOrderAmount, domain.OrderRoleSafety)
	if order == nil {
		return nil
	}

	return &domain.StrategyAction{
		Order:       order,
		CycleUpdate: domain.NewCycleUpdate().SetStatus(domain.CycleStatusBuying),
		Reason:      reasonSafetyOrder,
	}
}

// DecideTakeProfit exits the position. The reference price is the bid.
// With TTP disabled crossing the threshold sells at market. With TTP enabled the
// first crossing arms trailing, later ticks raise the high-water mark or sell once
// the bid pulls back ttp_deviation_percent from it.
func (e *Engine) DecideTakeProfit(tick domain.MarketTick, asset domain.AssetConfig, cycle domain.Cycle) *domain.StrategyAction {
	if !tradable(tick, asset) {
		return nil
	}
	if !cycle.Quantity.IsPositive() || !cycle.AveragePurchasePrice.IsPositive() {
		return nil
	}
	bid := tick.BidPrice
	if !bid.IsPositive() {
		return nil
	}

	switch cycle.Status {
	case domain.CycleStatusWatching:
		target := domain.RiseThreshold(cycle.AveragePurchasePrice, asset.TakeProfitPercent)
		if bid.LessThan(target) {
			return nil
		}

		if asset.TTPEnabled {
			return &domain.StrategyAction{
				CycleUpdate: domain.NewCycleUpdate().SetStatus(domain.CycleStatusTrailing),
				TTP:         &domain.TTPUpdate{HighestTrailingPrice: bid, Arm: true},
				Reason:      reasonTTPArmed,
			}
		}

		return sellAction(asset, cycle, reasonTakeProfit)

	case domain.CycleStatusTrailing:
		if !cycle.HighestTrailingPrice.Valid || !cycle.HighestTrailingPrice.Decimal.IsPositive() {
			return &domain.StrategyAction{
				TTP:    &domain.TTPUpdate{HighestTrailingPrice: bid},
				Reason: reasonTTPAnchor,
			}
		}

		high := cycle.HighestTrailingPrice.Decimal
		if bid.GreaterThan(high) {
			return &domain.StrategyAction{
				TTP:    &domain.TTPUpdate{HighestTrailingPrice: bid},
				Reason: reasonTTPRaised,
			}
		}

		stop := domain.DropThreshold(high, asset.TTPDeviationPercent)
		if bid.LessThanOrEqual(stop) {
			return sellAction(asset, cycle, reasonTTPStop)
		}
	}

	return nil
}

func (e *Engine) buyIntent(tick domain.MarketTick, asset domain.AssetConfig, amount decimal.Decimal, role domain.OrderRole) *domain.OrderIntent {
	qty := domain.QuantityForAmount(amount, tick.AskPrice, asset.QuantityStep)
	if !qty.IsPositive() {
		return nil
	}
	if asset.MinOrderQuantity.IsPositive() && qty.LessThan(asset.MinOrderQuantity) {
		return nil
	}

	return &domain.OrderIntent{
		Symbol:     asset.Symbol,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeLimit,
		Role:       role,
		Quantity:   qty,
		LimitPrice: e.pricing.LimitPrice(tick.AskPrice, asset.PriceStep),
	}
}

func sellAction(asset domain.AssetConfig, cycle domain.Cycle, reason string) *domain.StrategyAction {
	return &domain.StrategyAction{
		Order: &domain.OrderIntent{
			Symbol:   asset.Symbol,
			Side:     domain.OrderSideSell,
			Type:     domain.OrderTypeMarket,
			Role:     domain.OrderRoleTakeProfit,
			Quantity: cycle.Quantity,
		},
		CycleUpdate: domain.NewCycleUpdate().SetStatus(domain.CycleStatusSelling),
		Reason:      reason,
	}
}

// tradable rejects disabled assets and ticks for another symbol.
func tradable(tick domain.MarketTick, asset domain.AssetConfig) bool {
	if !asset.IsEnabled {
		return false
	}
	return tick.Symbol == "" || tick.Symbol == asset.Symbol
}

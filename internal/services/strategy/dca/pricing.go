package dca

import (
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// DefaultTestingMarkupPercent is the limit-price markup used against sandbox exchanges.
const DefaultTestingMarkupPercent = 5

// PricingPolicy turns the current ask into the limit price of a buy order.
// step is the exchange price tick; a non-positive step keeps full precision.
type PricingPolicy interface {
	LimitPrice(ask, step decimal.Decimal) decimal.Decimal
}

// MarketPricing bids exactly the ask.
type MarketPricing struct{}

func (MarketPricing) LimitPrice(ask, _ decimal.Decimal) decimal.Decimal {
	return ask
}

// AggressivePricing inflates the ask by MarkupPercent so sandbox orders fill immediately.
// It is only wired when testing mode is switched on in the configuration.
type AggressivePricing struct {
	MarkupPercent decimal.Decimal
}

// NewAggressivePricing returns a policy with the given markup, or the default 5% when markup is not positive.
func NewAggressivePricing(markupPercent decimal.Decimal) AggressivePricing {
	if !markupPercent.IsPositive() {
		markupPercent = decimal.NewFromInt(DefaultTestingMarkupPercent)
	}
	return AggressivePricing{MarkupPercent: markupPercent}
}

func (p AggressivePricing) LimitPrice(ask, step decimal.Decimal) decimal.Decimal {
	price := ask.Mul(decimal.NewFromInt(1).Add(p.MarkupPercent.Div(decimal.NewFromInt(percentageMultiplier))))
	return domain.RoundToStep(price, step)
}

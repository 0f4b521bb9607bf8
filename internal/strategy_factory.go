package internal

import (
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
)

// NewEngine builds the decision engine. Testing mode bids above the ask so buys fill at once.
func NewEngine(logger *zap.Logger, conf config.Config) *dca.Engine {
	if !conf.TestingMode {
		return dca.NewEngine()
	}

	logger.Warn("testing mode: buy limits are priced above the ask",
		zap.String("markup_percent", conf.TestingMarkupPercent.String()))

	return dca.NewEngine(dca.WithPricingPolicy(dca.NewAggressivePricing(conf.TestingMarkupPercent)))
}

package pricer

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

type tickSource interface {
	GetTick(ctx context.Context, symbol string) (domain.MarketTick, error)
}

// FallbackPricer reads the primary source and asks the secondary when it has nothing fresh.
type FallbackPricer struct {
	l         *zap.Logger
	primary   tickSource
	secondary tickSource
}

func NewFallbackPricer(l *zap.Logger, primary, secondary tickSource) *FallbackPricer {
	return &FallbackPricer{l: l, primary: primary, secondary: secondary}
}

func (p *FallbackPricer) GetTick(ctx context.Context, symbol string) (domain.MarketTick, error) {
	tick, err := p.primary.GetTick(ctx, symbol)
	if err == nil {
		return tick, nil
	}

	p.l.Debug("primary tick source unavailable, falling back", zap.String("symbol", symbol), zap.Error(err))

	tick, fallbackErr := p.secondary.GetTick(ctx, symbol)
	if fallbackErr != nil {
		return domain.MarketTick{}, errors.Wrapf(fallbackErr, "no tick for %s (primary: %v)", symbol, err)
	}

	return tick, nil
}

package pricer

import (
	"context"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

type BybitPricer struct {
	client *bybit.Client
}

func NewBybitPricer(client *bybit.Client) *BybitPricer {
	return &BybitPricer{client: client}
}

func (p *BybitPricer) GetTick(_ context.Context, symbol string) (domain.MarketTick, error) {
	sym, err := exchangeSymbol(symbol)
	if err != nil {
		return domain.MarketTick{}, err
	}
	bsym := bybit.SymbolV5(sym)

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &bsym,
	})
	if err != nil {
		return domain.MarketTick{}, errors.Wrapf(err, "failed to get bybit ticker for %s", symbol)
	}
	if result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return domain.MarketTick{}, errors.Errorf("bybit API returned empty prices for %s", symbol)
	}

	item := result.Result.Spot.List[0]
	bid, ask, err := parseQuote(symbol, item.Bid1Price, item.Ask1Price)
	if err != nil {
		return domain.MarketTick{}, err
	}

	return domain.MarketTick{
		Timestamp: time.Now().UTC(),
		Symbol:    symbol,
		AskPrice:  ask,
		BidPrice:  bid,
	}, nil
}

package pricer

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// BinancePricer reads the best bid and ask from the Binance REST book ticker.
// It only uses public endpoints, so a client without keys works for paper trading.
type BinancePricer struct {
	client *binance.Client
}

func NewBinancePricer(client *binance.Client) *BinancePricer {
	return &BinancePricer{client: client}
}

func (p *BinancePricer) GetTick(ctx context.Context, symbol string) (domain.MarketTick, error) {
	sym, err := exchangeSymbol(symbol)
	if err != nil {
		return domain.MarketTick{}, err
	}

	tickers, err := p.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return domain.MarketTick{}, errors.Wrapf(err, "failed to get binance book ticker for %s", symbol)
	}
	if len(tickers) == 0 {
		return domain.MarketTick{}, errors.Errorf("binance API returned empty book ticker for %s", symbol)
	}

	bid, ask, err := parseQuote(symbol, tickers[0].BidPrice, tickers[0].AskPrice)
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

// Package pricer provides market tick sources for spot symbols written as BASE/QUOTE.
package pricer

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

func parseQuote(symbol, bid, ask string) (decimal.Decimal, decimal.Decimal, error) {
	b, err := decimal.NewFromString(bid)
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrapf(err, "bad bid for %s", symbol)
	}
	a, err := decimal.NewFromString(ask)
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrapf(err, "bad ask for %s", symbol)
	}
	if !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero, decimal.Zero, errors.Errorf("empty book for %s", symbol)
	}
	return b, a, nil
}

func exchangeSymbol(symbol string) (string, error) {
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return "", err
	}
	return pair.Symbol(), nil
}

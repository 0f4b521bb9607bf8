package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// SimulateClient drives the paper exchange with public Binance market data.
type SimulateClient struct {
	binanceClient *binance.Client
	quoteBalance  decimal.Decimal
}

// NewSimulateClient creates a keyless client. A non-positive balance selects the simulator default.
func NewSimulateClient(quoteBalance decimal.Decimal) *SimulateClient {
	return &SimulateClient{
		binanceClient: binance.NewClient("", ""),
		quoteBalance:  quoteBalance,
	}
}

// GetBinanceClient returns the underlying Binance client.
func (c *SimulateClient) GetBinanceClient() *binance.Client {
	return c.binanceClient
}

// QuoteBalance is the starting paper balance.
func (c *SimulateClient) QuoteBalance() decimal.Decimal {
	return c.quoteBalance
}

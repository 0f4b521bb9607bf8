package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient builds a spot client. Empty keys are enough for public market data.
func NewBinanceClient(apiKey, apiSecret string, testnet bool) *binance.Client {
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, apiSecret)
	return client
}

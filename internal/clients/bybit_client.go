package clients

import (
	"github.com/hirokisan/bybit/v2"
)

func NewBybitClient(apiKey, apiSecret string, testnet bool) *bybit.Client {
	client := bybit.NewClient()
	if testnet {
		client = client.WithBaseURL(bybit.TestNetBaseURL)
	}
	if apiKey != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}

	return client
}

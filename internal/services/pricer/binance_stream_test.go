package pricer

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBinanceStreamPricer_CachesLatestTick(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewBinanceStreamPricer(zap.NewNop(), 10*time.Second)
	p.now = func() time.Time { return now }

	_, err := p.GetTick(context.Background(), "BTC/USDT")
	require.Error(t, err, "no tick before the first update")

	p.onEvent("BTC/USDT", &binance.WsBookTickerEvent{Symbol: "BTCUSDT", BestBidPrice: "64000.1", BestAskPrice: "64000.2"})
	p.onEvent("BTC/USDT", &binance.WsBookTickerEvent{Symbol: "BTCUSDT", BestBidPrice: "0", BestAskPrice: "64000.2"})

	tick, err := p.GetTick(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "64000.1", tick.BidPrice.String())
	assert.Equal(t, "64000.2", tick.AskPrice.String())

	now = now.Add(11 * time.Second)
	_, err = p.GetTick(context.Background(), "BTC/USDT")
	require.Error(t, err, "stale tick is rejected")
}

func TestBinanceStreamPricer_RunStopsWithContext(t *testing.T) {
	p := NewBinanceStreamPricer(zap.NewNop(), 0)

	subscribed := make(chan string, 1)
	p.serve = func(symbol string, handler binance.WsBookTickerHandler, _ binance.ErrHandler) (chan struct{}, chan struct{}, error) {
		doneC, stopC := make(chan struct{}), make(chan struct{})
		go func() {
			handler(&binance.WsBookTickerEvent{Symbol: symbol, BestBidPrice: "10", BestAskPrice: "11"})
			subscribed <- symbol
			<-stopC
			close(doneC)
		}()
		return doneC, stopC, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() { errC <- p.Run(ctx, []string{"ETH/USDT"}) }()

	require.Equal(t, "ETHUSDT", <-subscribed)
	tick, err := p.GetTick(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, "11", tick.AskPrice.String())

	cancel()
	select {
	case err := <-errC:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

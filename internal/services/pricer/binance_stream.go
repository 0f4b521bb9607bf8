package pricer

import (
	"context"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const (
	defaultStreamMaxAge    = 30 * time.Second
	streamReconnectBackoff = 3 * time.Second
)

type wsServeFunc func(symbol string, handler binance.WsBookTickerHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error)

// BinanceStreamPricer keeps the latest book ticker per symbol from the Binance websocket stream.
type BinanceStreamPricer struct {
	l      *zap.Logger
	maxAge time.Duration
	serve  wsServeFunc
	now    func() time.Time

	mu    sync.RWMutex
	ticks map[string]domain.MarketTick
}

// NewBinanceStreamPricer returns a pricer that rejects ticks older than maxAge.
func NewBinanceStreamPricer(l *zap.Logger, maxAge time.Duration) *BinanceStreamPricer {
	if maxAge <= 0 {
		maxAge = defaultStreamMaxAge
	}
	return &BinanceStreamPricer{
		l:      l,
		maxAge: maxAge,
		serve:  binance.WsBookTickerServe,
		now:    func() time.Time { return time.Now().UTC() },
		ticks:  make(map[string]domain.MarketTick),
	}
}

// Run subscribes to every symbol and keeps the subscriptions alive until ctx is done.
func (p *BinanceStreamPricer) Run(ctx context.Context, symbols []string) error {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		sym, err := exchangeSymbol(symbol)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func(symbol, sym string) {
			defer wg.Done()
			p.follow(ctx, symbol, sym)
		}(symbol, sym)
	}

	wg.Wait()
	return ctx.Err()
}

func (p *BinanceStreamPricer) follow(ctx context.Context, symbol, sym string) {
	l := p.l.With(zap.String("symbol", symbol))

	for {
		doneC, stopC, err := p.serve(sym, func(ev *binance.WsBookTickerEvent) {
			p.onEvent(symbol, ev)
		}, func(err error) {
			l.Warn("book ticker stream error", zap.Error(err))
		})
		if err != nil {
			l.Warn("failed to subscribe to book ticker stream", zap.Error(err))
		} else {
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
				l.Info("book ticker stream closed, reconnecting")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectBackoff):
		}
	}
}

func (p *BinanceStreamPricer) onEvent(symbol string, ev *binance.WsBookTickerEvent) {
	if ev == nil {
		return
	}

	bid, ask, err := parseQuote(symbol, ev.BestBidPrice, ev.BestAskPrice)
	if err != nil {
		p.l.Debug("skipping book ticker update", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	p.mu.Lock()
	p.ticks[symbol] = domain.MarketTick{
		Timestamp: p.now(),
		Symbol:    symbol,
		AskPrice:  ask,
		BidPrice:  bid,
	}
	p.mu.Unlock()
}

// GetTick returns the cached tick, or an error when none is fresh enough.
func (p *BinanceStreamPricer) GetTick(_ context.Context, symbol string) (domain.MarketTick, error) {
	p.mu.RLock()
	tick, ok := p.ticks[symbol]
	p.mu.RUnlock()

	if !ok {
		return domain.MarketTick{}, errors.Errorf("no book ticker received yet for %s", symbol)
	}
	if age := p.now().Sub(tick.Timestamp); age > p.maxAge {
		return domain.MarketTick{}, errors.Errorf("book ticker for %s is stale (%s old)", symbol, age)
	}

	return tick, nil
}

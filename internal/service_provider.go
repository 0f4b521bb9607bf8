package internal

import (
	"context"
	"sync"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/clients"
	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/services/pricer"
	"github.com/vadiminshakov/dcabot/internal/services/trader"
)

// Exchange submits orders and reports their state and the live spot holding.
type Exchange interface {
	PlaceOrder(ctx context.Context, intent domain.OrderIntent, clientOrderID string) (string, error)
	GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderEvent, error)
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
}

// TickSource returns the current top of book for a BASE/QUOTE symbol.
type TickSource interface {
	GetTick(ctx context.Context, symbol string) (domain.MarketTick, error)
}

// ServiceProvider builds the platform-specific collaborators of the bot.
type ServiceProvider interface {
	Exchange() (Exchange, error)
	TickSource() TickSource
	// RunFeeds keeps background market feeds alive until ctx is done.
	RunFeeds(ctx context.Context, symbols []string) error
}

// NewServiceProvider dispatches on the client type.
func NewServiceProvider(client any, logger *zap.Logger) (ServiceProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		stream := pricer.NewBinanceStreamPricer(logger.Named("binance_stream"), 0)
		return &binanceProvider{
			client: c,
			stream: stream,
			ticks:  pricer.NewFallbackPricer(logger, stream, pricer.NewBinancePricer(c)),
		}, nil
	case *bybit.Client:
		return &bybitProvider{client: c}, nil
	case *clients.SimulateClient:
		return &simulateProvider{client: c, logger: logger}, nil
	default:
		return nil, errors.Errorf("unsupported client type: %T", client)
	}
}

type binanceProvider struct {
	client *binance.Client
	stream *pricer.BinanceStreamPricer
	ticks  TickSource
}

func (p *binanceProvider) Exchange() (Exchange, error) {
	return trader.NewBinanceTrader(p.client), nil
}
func (p *binanceProvider) TickSource() TickSource {
	return p.ticks
}
func (p *binanceProvider) RunFeeds(ctx context.Context, symbols []string) error {
	return p.stream.Run(ctx, symbols)
}

type bybitProvider struct {
	client *bybit.Client
}

func (p *bybitProvider) Exchange() (Exchange, error) {
	return trader.NewBybitTrader(p.client), nil
}
func (p *bybitProvider) TickSource() TickSource {
	return pricer.NewBybitPricer(p.client)
}
func (p *bybitProvider) RunFeeds(ctx context.Context, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}

type simulateProvider struct {
	client *clients.SimulateClient
	logger *zap.Logger

	once     sync.Once
	exchange *trader.SimulateTrader
	err      error
}

func (p *simulateProvider) Exchange() (Exchange, error) {
	p.once.Do(func() {
		p.exchange, p.err = trader.NewSimulateTrader(p.logger, p.TickSource(), p.client.QuoteBalance())
	})
	return p.exchange, p.err
}
func (p *simulateProvider) TickSource() TickSource {
	return pricer.NewBinancePricer(p.client.GetBinanceClient())
}
func (p *simulateProvider) RunFeeds(ctx context.Context, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}

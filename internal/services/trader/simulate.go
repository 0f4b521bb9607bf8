package trader

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// DefaultSimulateQuoteBalance is the paper quote balance of a fresh simulator.
var DefaultSimulateQuoteBalance = decimal.NewFromInt(10000)

type tickSource interface {
	GetTick(ctx context.Context, symbol string) (domain.MarketTick, error)
}

type holding struct {
	qty decimal.Decimal
	avg decimal.Decimal
}

type simOrder struct {
	intent domain.OrderIntent
	event  domain.OrderEvent
}

// SimulateTrader is an in-memory spot exchange driven by live ticks.
// Limit buys fill at the ask once the ask is at or below the limit, market sells fill at the bid.
type SimulateTrader struct {
	mu     sync.Mutex
	logger *zap.Logger
	ticks  tickSource

	quote    map[string]decimal.Decimal
	holdings map[string]*holding
	orders   map[string]*simOrder
}

// NewSimulateTrader creates a paper exchange with quoteBalance available in every quote currency.
func NewSimulateTrader(logger *zap.Logger, ticks tickSource, quoteBalance decimal.Decimal) (*SimulateTrader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ticks == nil {
		return nil, errors.New("tick source is required for SimulateTrader")
	}
	if !quoteBalance.IsPositive() {
		quoteBalance = DefaultSimulateQuoteBalance
	}

	logger.Info("simulate init", zap.String("quote_balance", quoteBalance.String()))

	return &SimulateTrader{
		logger:   logger,
		ticks:    ticks,
		quote:    map[string]decimal.Decimal{"": quoteBalance},
		holdings: make(map[string]*holding),
		orders:   make(map[string]*simOrder),
	}, nil
}

func (t *SimulateTrader) PlaceOrder(ctx context.Context, intent domain.OrderIntent, clientOrderID string) (string, error) {
	if !intent.Quantity.IsPositive() {
		return "", errors.Errorf("order quantity must be positive, got %s", intent.Quantity.String())
	}
	pair, err := domain.ParsePair(intent.Symbol)
	if err != nil {
		return "", err
	}

	tick, err := t.ticks.GetTick(ctx, intent.Symbol)
	if err != nil {
		return "", errors.Wrap(err, "failed to get tick for simulated order")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[clientOrderID]; ok {
		return "", errors.Errorf("duplicate client order id %s", clientOrderID)
	}

	o := &simOrder{
		intent: intent,
		event: domain.OrderEvent{
			OrderID:         clientOrderID,
			Symbol:          intent.Symbol,
			Side:            intent.Side,
			Kind:            domain.OrderEventNew,
			OrderedQuantity: intent.Quantity,
			Timestamp:       tick.Timestamp,
		},
	}

	switch {
	case intent.Side == domain.OrderSideBuy && intent.Type == domain.OrderTypeLimit:
		if !intent.LimitPrice.IsPositive() {
			return "", errors.New("limit price must be positive")
		}
		if t.quoteBalance(pair.To).LessThan(intent.Quantity.Mul(intent.LimitPrice)) {
			return "", errors.Errorf("insufficient %s balance for %s", pair.To, intent.String())
		}
		t.tryFillBuy(pair, o, tick)
	case intent.Side == domain.OrderSideSell && intent.Type == domain.OrderTypeMarket:
		h := t.holdings[intent.Symbol]
		if h == nil || h.qty.LessThan(intent.Quantity) {
			return "", errors.Errorf("insufficient %s balance for %s", pair.From, intent.String())
		}
		if !tick.BidPrice.IsPositive() {
			return "", errors.New("no bid to sell into")
		}
		t.fillSell(pair, o, tick)
	default:
		return "", errors.Errorf("simulator supports limit buys and market sells, got %s", intent.String())
	}

	t.orders[clientOrderID] = o

	t.logger.Info("simulated order",
		zap.String("order_id", clientOrderID),
		zap.String("order", intent.String()),
		zap.String("status", string(o.event.Kind)),
		zap.String("fill_price", o.event.FillPrice.String()))

	return uuid.NewString(), nil
}

// GetOrder returns the order state, filling resting limit buys the current ask now crosses.
func (t *SimulateTrader) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderEvent, error) {
	t.mu.Lock()
	o, ok := t.orders[clientOrderID]
	resting := ok && o.event.Kind == domain.OrderEventNew
	t.mu.Unlock()

	if !ok {
		return domain.OrderEvent{}, domain.ErrOrderNotFound
	}

	if resting {
		tick, err := t.ticks.GetTick(ctx, symbol)
		if err != nil {
			return domain.OrderEvent{}, errors.Wrap(err, "failed to get tick for simulated order")
		}
		pair, err := domain.ParsePair(symbol)
		if err != nil {
			return domain.OrderEvent{}, err
		}

		t.mu.Lock()
		if o.event.Kind == domain.OrderEventNew {
			t.tryFillBuy(pair, o, tick)
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return o.event, nil
}

func (t *SimulateTrader) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.holdings[symbol]
	if h == nil {
		return nil, nil
	}
	return &domain.Position{Symbol: symbol, Quantity: h.qty, AvgEntryPrice: h.avg}, nil
}

// QuoteBalance returns the free balance of a quote currency.
func (t *SimulateTrader) QuoteBalance(currency string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quoteBalance(currency)
}

func (t *SimulateTrader) quoteBalance(currency string) decimal.Decimal {
	if b, ok := t.quote[currency]; ok {
		return b
	}
	return t.quote[""]
}

func (t *SimulateTrader) tryFillBuy(pair domain.Pair, o *simOrder, tick domain.MarketTick) {
	if !tick.AskPrice.IsPositive() || tick.AskPrice.GreaterThan(o.intent.LimitPrice) {
		return
	}

	qty := o.intent.Quantity
	price := tick.AskPrice

	h := t.holdings[o.intent.Symbol]
	if h == nil {
		h = &holding{}
		t.holdings[o.intent.Symbol] = h
	}
	h.avg = domain.WeightedAverage(h.qty, h.avg, qty, price)
	h.qty = h.qty.Add(qty)
	t.quote[pair.To] = t.quoteBalance(pair.To).Sub(qty.Mul(price))

	o.event.Kind = domain.OrderEventFilled
	o.event.FilledQuantity = qty
	o.event.FillPrice = price
	o.event.Timestamp = tick.Timestamp
}

func (t *SimulateTrader) fillSell(pair domain.Pair, o *simOrder, tick domain.MarketTick) {
	qty := o.intent.Quantity
	price := tick.BidPrice

	h := t.holdings[o.intent.Symbol]
	h.qty = h.qty.Sub(qty)
	if !h.qty.IsPositive() {
		delete(t.holdings, o.intent.Symbol)
	}
	t.quote[pair.To] = t.quoteBalance(pair.To).Add(qty.Mul(price))

	o.event.Kind = domain.OrderEventFilled
	o.event.FilledQuantity = qty
	o.event.FillPrice = price
	o.event.Timestamp = tick.Timestamp
}

package trader

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const (
	// binance error code for an unknown order
	binanceOrderDoesNotExist = -2013

	binanceStatusExpiredInMatch binance.OrderStatusType = "EXPIRED_IN_MATCH"
)

// BinanceTrader trades spot pairs on Binance.
type BinanceTrader struct {
	client *binance.Client
}

func NewBinanceTrader(client *binance.Client) *BinanceTrader {
	return &BinanceTrader{client: client}
}

// PlaceOrder submits a GTC limit or a market order tagged with clientOrderID.
func (t *BinanceTrader) PlaceOrder(ctx context.Context, intent domain.OrderIntent, clientOrderID string) (string, error) {
	pair, err := domain.ParsePair(intent.Symbol)
	if err != nil {
		return "", err
	}

	svc := t.client.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(binanceSide(intent.Side)).
		Quantity(intent.Quantity.String()).
		NewClientOrderID(clientOrderID)

	switch intent.Type {
	case domain.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(intent.LimitPrice.String())
	case domain.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	default:
		return "", errors.Errorf("unsupported order type %s", intent.Type)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "failed to place binance %s", intent.String())
	}

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// GetOrder returns the execution state of the order with the given client id.
func (t *BinanceTrader) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderEvent, error) {
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return domain.OrderEvent{}, err
	}

	order, err := t.client.NewGetOrderService().
		Symbol(pair.Symbol()).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == binanceOrderDoesNotExist {
			return domain.OrderEvent{}, domain.ErrOrderNotFound
		}
		return domain.OrderEvent{}, errors.Wrap(err, "failed to query binance order status")
	}

	ordered, err := decimal.NewFromString(order.OrigQuantity)
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to parse ordered quantity")
	}
	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	quote, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to parse executed quote quantity")
	}

	fillPrice := decimal.Zero
	if executed.IsPositive() {
		fillPrice = quote.Div(executed)
	}

	return domain.OrderEvent{
		OrderID:         clientOrderID,
		Symbol:          symbol,
		Side:            domain.OrderSide(order.Side),
		Kind:            binanceEventKind(order.Status),
		OrderedQuantity: ordered,
		FilledQuantity:  executed,
		FillPrice:       fillPrice,
		Timestamp:       time.UnixMilli(order.UpdateTime).UTC(),
	}, nil
}

// GetPosition reports the spot holding of the base asset. The average entry is
// folded from the account trade history and is zero when no buys are found.
func (t *BinanceTrader) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return nil, err
	}

	account, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance account balance")
	}

	qty := decimal.Zero
	for _, balance := range account.Balances {
		if balance.Asset != pair.From {
			continue
		}
		free, err := decimal.NewFromString(balance.Free)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse free balance")
		}
		locked, err := decimal.NewFromString(balance.Locked)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse locked balance")
		}
		qty = free.Add(locked)
		break
	}

	if !qty.IsPositive() {
		return domain.NewPositionFromExternalSnapshot(symbol, decimal.Zero, decimal.Zero, time.Now().UTC())
	}

	trades, err := t.client.NewListTradesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list binance trades")
	}

	fills := make([]tradeFill, 0, len(trades))
	for _, tr := range trades {
		q, err := decimal.NewFromString(tr.Quantity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse trade quantity")
		}
		p, err := decimal.NewFromString(tr.Price)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse trade price")
		}
		fills = append(fills, tradeFill{
			Time:     time.UnixMilli(tr.Time),
			Buy:      tr.IsBuyer,
			Quantity: q,
			Price:    p,
		})
	}

	return domain.NewPositionFromExternalSnapshot(symbol, qty, averageEntry(fills), time.Now().UTC())
}

type tradeFill struct {
	Time     time.Time
	Buy      bool
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// averageEntry replays fills oldest first and returns the cost basis of what is still held.
// Sells reduce the held quantity at the running average; a flat position resets the basis.
func averageEntry(fills []tradeFill) decimal.Decimal {
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].Time.Before(fills[j].Time)
	})

	totalQty := decimal.Zero
	totalCost := decimal.Zero

	for _, f := range fills {
		if f.Buy {
			totalCost = totalCost.Add(f.Price.Mul(f.Quantity))
			totalQty = totalQty.Add(f.Quantity)
			continue
		}

		if !totalQty.IsPositive() {
			continue
		}

		reduced := decimal.Min(f.Quantity, totalQty)
		avg := totalCost.Div(totalQty)
		totalCost = totalCost.Sub(avg.Mul(reduced))
		totalQty = totalQty.Sub(reduced)

		if !totalQty.IsPositive() {
			totalQty = decimal.Zero
			totalCost = decimal.Zero
		}
	}

	if !totalQty.IsPositive() || !totalCost.IsPositive() {
		return decimal.Zero
	}

	return totalCost.Div(totalQty)
}

func binanceSide(side domain.OrderSide) binance.SideType {
	if side == domain.OrderSideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func binanceEventKind(status binance.OrderStatusType) domain.OrderEventKind {
	switch status {
	case binance.OrderStatusTypeFilled:
		return domain.OrderEventFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderEventPartiallyFilled
	case binance.OrderStatusTypeCanceled:
		return domain.OrderEventCanceled
	case binance.OrderStatusTypeRejected:
		return domain.OrderEventRejected
	case binance.OrderStatusTypeExpired, binanceStatusExpiredInMatch:
		return domain.OrderEventExpired
	default:
		return domain.OrderEventNew
	}
}

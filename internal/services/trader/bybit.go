package trader

import (
	"context"
	"strconv"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const bybitCategorySpot = "spot"

// BybitTrader trades spot pairs on a Bybit unified account.
type BybitTrader struct {
	client *bybit.Client
}

func NewBybitTrader(client *bybit.Client) *BybitTrader {
	return &BybitTrader{client: client}
}

// PlaceOrder submits a limit or market order with clientOrderID as the order link id.
func (t *BybitTrader) PlaceOrder(_ context.Context, intent domain.OrderIntent, clientOrderID string) (string, error) {
	pair, err := domain.ParsePair(intent.Symbol)
	if err != nil {
		return "", err
	}

	linkID := clientOrderID
	param := bybit.V5CreateOrderParam{
		Category:    bybitCategorySpot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		Side:        bybitSide(intent.Side),
		Qty:         intent.Quantity.String(),
		OrderLinkID: &linkID,
	}

	switch intent.Type {
	case domain.OrderTypeLimit:
		price := intent.LimitPrice.String()
		param.OrderType = bybit.OrderTypeLimit
		param.Price = &price
	case domain.OrderTypeMarket:
		param.OrderType = bybit.OrderTypeMarket
	default:
		return "", errors.Errorf("unsupported order type %s", intent.Type)
	}

	resp, err := t.client.V5().Order().CreateOrder(param)
	if err != nil {
		return "", errors.Wrapf(err, "failed to place bybit %s", intent.String())
	}

	return resp.Result.OrderID, nil
}

// GetOrder looks the order up among open orders first, then among recently closed ones,
// and finally in the order history.
func (t *BybitTrader) GetOrder(_ context.Context, symbol, clientOrderID string) (domain.OrderEvent, error) {
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return domain.OrderEvent{}, err
	}

	sym := bybit.SymbolV5(pair.Symbol())
	linkID := clientOrderID

	for _, openOnly := range []int{0, 1} {
		flag := openOnly
		resp, err := t.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
			Category:    bybitCategorySpot,
			Symbol:      &sym,
			OrderLinkID: &linkID,
			OpenOnly:    &flag,
		})
		if err != nil {
			return domain.OrderEvent{}, errors.Wrap(err, "failed to query bybit order status")
		}
		if o, ok := findBybitOrder(resp.Result.List, clientOrderID); ok {
			return bybitOrderEvent(symbol, clientOrderID, string(o.OrderStatus), string(o.Side),
				o.Qty, o.CumExecQty, o.AvgPrice, o.UpdatedTime)
		}
	}

	resp, err := t.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
		Category:    bybitCategorySpot,
		Symbol:      &sym,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to query bybit order history")
	}
	if o, ok := findBybitOrder(resp.Result.List, clientOrderID); ok {
		return bybitOrderEvent(symbol, clientOrderID, string(o.OrderStatus), string(o.Side),
			o.Qty, o.CumExecQty, o.AvgPrice, o.UpdatedTime)
	}

	return domain.OrderEvent{}, domain.ErrOrderNotFound
}

func findBybitOrder(list []bybit.V5GetOrder, clientOrderID string) (bybit.V5GetOrder, bool) {
	for _, o := range list {
		if o.OrderLinkID == clientOrderID {
			return o, true
		}
	}
	return bybit.V5GetOrder{}, false
}

// GetPosition reports the wallet balance of the base coin. Bybit does not expose a
// spot cost basis, so the average entry is zero.
func (t *BybitTrader) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return nil, err
	}

	res, err := t.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bybit wallet balance")
	}

	qty := decimal.Zero
	if len(res.Result.List) > 0 {
		for _, coin := range res.Result.List[0].Coin {
			if string(coin.Coin) != pair.From {
				continue
			}
			qty, err = decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse wallet balance")
			}
			break
		}
	}

	return domain.NewPositionFromExternalSnapshot(symbol, qty, decimal.Zero, time.Now().UTC())
}

func bybitOrderEvent(symbol, clientOrderID, status, side, qty, execQty, avgPrice, updated string) (domain.OrderEvent, error) {
	ordered, err := parseOptionalDecimal(qty)
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to parse ordered quantity")
	}
	executed, err := parseOptionalDecimal(execQty)
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	price, err := parseOptionalDecimal(avgPrice)
	if err != nil {
		return domain.OrderEvent{}, errors.Wrap(err, "failed to parse average price")
	}

	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(updated, 10, 64); err == nil {
		ts = time.UnixMilli(ms).UTC()
	}

	orderSide := domain.OrderSideBuy
	if side == string(bybit.SideSell) {
		orderSide = domain.OrderSideSell
	}

	return domain.OrderEvent{
		OrderID:         clientOrderID,
		Symbol:          symbol,
		Side:            orderSide,
		Kind:            bybitEventKind(status),
		OrderedQuantity: ordered,
		FilledQuantity:  executed,
		FillPrice:       price,
		Timestamp:       ts,
	}, nil
}

func bybitEventKind(status string) domain.OrderEventKind {
	switch status {
	case "Filled":
		return domain.OrderEventFilled
	case "PartiallyFilled":
		return domain.OrderEventPartiallyFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return domain.OrderEventCanceled
	case "Rejected":
		return domain.OrderEventRejected
	case "Deactivated":
		return domain.OrderEventExpired
	default:
		return domain.OrderEventNew
	}
}

func bybitSide(side domain.OrderSide) bybit.Side {
	if side == domain.OrderSideSell {
		return bybit.SideSell
	}
	return bybit.SideBuy
}

func parseOptionalDecimal(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

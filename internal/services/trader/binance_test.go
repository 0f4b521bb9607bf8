package trader

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

func TestAverageEntry(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fill := func(minute int, buy bool, qty, price string) tradeFill {
		return tradeFill{
			Time:     t0.Add(time.Duration(minute) * time.Minute),
			Buy:      buy,
			Quantity: decimal.RequireFromString(qty),
			Price:    decimal.RequireFromString(price),
		}
	}

	tests := []struct {
		name  string
		fills []tradeFill
		want  string
	}{
		{name: "no trades", want: "0"},
		{name: "single buy", fills: []tradeFill{fill(0, true, "1", "100")}, want: "100"},
		{
			name:  "two buys",
			fills: []tradeFill{fill(0, true, "1", "100"), fill(1, true, "1", "90")},
			want:  "95",
		},
		{
			name:  "partial sell keeps basis",
			fills: []tradeFill{fill(0, true, "2", "100"), fill(1, false, "1", "120")},
			want:  "100",
		},
		{
			name: "flat position resets basis",
			fills: []tradeFill{
				fill(0, true, "1", "100"),
				fill(1, false, "1", "110"),
				fill(2, true, "1", "50"),
			},
			want: "50",
		},
		{
			name:  "unordered input is sorted by time",
			fills: []tradeFill{fill(2, true, "1", "50"), fill(1, false, "1", "110"), fill(0, true, "1", "100")},
			want:  "50",
		},
		{name: "sell without buys", fills: []tradeFill{fill(0, false, "1", "100")}, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := averageEntry(tt.fills)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got.String())
		})
	}
}

func TestBinanceEventKind(t *testing.T) {
	assert.Equal(t, domain.OrderEventFilled, binanceEventKind(binance.OrderStatusTypeFilled))
	assert.Equal(t, domain.OrderEventPartiallyFilled, binanceEventKind(binance.OrderStatusTypePartiallyFilled))
	assert.Equal(t, domain.OrderEventCanceled, binanceEventKind(binance.OrderStatusTypeCanceled))
	assert.Equal(t, domain.OrderEventRejected, binanceEventKind(binance.OrderStatusTypeRejected))
	assert.Equal(t, domain.OrderEventExpired, binanceEventKind(binance.OrderStatusTypeExpired))
	assert.Equal(t, domain.OrderEventExpired, binanceEventKind(binanceStatusExpiredInMatch))
	assert.Equal(t, domain.OrderEventNew, binanceEventKind(binance.OrderStatusTypeNew))
}

package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCycleValidate(t *testing.T) {
	tests := []struct {
		name    string
		cycle   Cycle
		max     int
		wantErr bool
	}{
		{
			name:  "fresh watching cycle",
			cycle: Cycle{Status: CycleStatusWatching},
			max:   3,
		},
		{
			name:  "base order outstanding",
			cycle: Cycle{Status: CycleStatusBuying, LatestOrderID: "o-1"},
			max:   3,
		},
		{
			name:    "selling without position",
			cycle:   Cycle{Status: CycleStatusSelling, LatestOrderID: "o-1"},
			max:     3,
			wantErr: true,
		},
		{
			name:    "empty watching cycle with stale average",
			cycle:   Cycle{Status: CycleStatusWatching, AveragePurchasePrice: d("10")},
			max:     3,
			wantErr: true,
		},
		{
			name:  "completed cycle keeps historical average",
			cycle: Cycle{Status: CycleStatusComplete, AveragePurchasePrice: d("10"), SafetyOrders: 2},
			max:   3,
		},
		{
			name:    "order linked while watching",
			cycle:   Cycle{Status: CycleStatusWatching, Quantity: d("1"), AveragePurchasePrice: d("1"), LatestOrderID: "o-1"},
			max:     3,
			wantErr: true,
		},
		{
			name:    "safety cap exceeded",
			cycle:   Cycle{Status: CycleStatusWatching, Quantity: d("1"), AveragePurchasePrice: d("1"), SafetyOrders: 4},
			max:     3,
			wantErr: true,
		},
		{
			name:  "safety cap skipped",
			cycle: Cycle{Status: CycleStatusWatching, Quantity: d("1"), AveragePurchasePrice: d("1"), SafetyOrders: 4},
			max:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cycle.Validate(tt.max)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCycleUpdate_ApplyAndClear(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Cycle{ID: 7, Status: CycleStatusWatching, Quantity: d("2"), AveragePurchasePrice: d("50")}

	upd := NewCycleUpdate().SetStatus(CycleStatusSelling).SetLatestOrder("o-9", now)
	require.False(t, upd.IsEmpty())

	c = upd.Apply(c)
	require.Equal(t, CycleStatusSelling, c.Status)
	require.Equal(t, "o-9", c.LatestOrderID)
	require.Equal(t, now, *c.LatestOrderCreatedAt)

	c = NewCycleUpdate().SetStatus(CycleStatusWatching).ClearLatestOrder().ClearHighestTrailingPrice().Apply(c)
	require.Empty(t, c.LatestOrderID)
	require.Nil(t, c.LatestOrderCreatedAt)
	require.False(t, c.HighestTrailingPrice.Valid)

	require.True(t, NewCycleUpdate().IsEmpty())
}

func TestCycleCondition_Matches(t *testing.T) {
	c := Cycle{Status: CycleStatusBuying, LatestOrderID: "o-1"}

	require.True(t, WhenStatus(CycleStatusBuying).Matches(c))
	require.False(t, WhenStatus(CycleStatusWatching).Matches(c))
	require.True(t, WhenLatestOrder("o-1").Matches(c))
	require.False(t, WhenLatestOrder("o-2").Matches(c))

	var none *CycleCondition
	require.True(t, none.Matches(c))
}

func TestCycle_RealizedPnL(t *testing.T) {
	c := Cycle{AveragePurchasePrice: d("100"), SellPrice: decimal.NewNullDecimal(d("103"))}
	require.True(t, c.RealizedPnL(d("2")).Equal(d("6")))

	c.SellPrice = decimal.NullDecimal{}
	require.True(t, c.RealizedPnL(d("2")).IsZero())
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usd")
	require.NoError(t, err)
	require.Equal(t, Pair{From: "BTC", To: "USD"}, p)
	require.Equal(t, "BTCUSD", p.Symbol())
	require.Equal(t, "BTC/USD", p.String())

	p, err = ParsePair("ETH_USDT")
	require.NoError(t, err)
	require.Equal(t, "ETHUSDT", p.Symbol())

	_, err = ParsePair("BTCUSD")
	require.Error(t, err)
}

func TestPosition_IsNegligible(t *testing.T) {
	var none *Position
	require.True(t, none.IsNegligible(d("0.001")))

	p := &Position{Quantity: d("0.0005")}
	require.True(t, p.IsNegligible(d("0.001")), "dust below exchange minimum is negligible")
	require.False(t, p.IsNegligible(decimal.Zero), "without a minimum any holding counts")

	p.Quantity = d("0.002")
	require.False(t, p.IsNegligible(d("0.001")))
}

package dca

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/storage/sqlite"
)

type positionSourceMock struct {
	mock.Mock
}

func (m *positionSourceMock) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	args := m.Called(ctx, symbol)
	pos, _ := args.Get(0).(*domain.Position)
	return pos, args.Error(1)
}

type missingAssets struct{}

func (missingAssets) GetAssetConfigByID(context.Context, int64) (*domain.AssetConfig, error) {
	return nil, nil
}

func (missingAssets) UpdateAssetConfig(context.Context, int64, *domain.AssetConfigUpdate) (bool, error) {
	return false, nil
}

// racingCycles loses every conditional update, as if the cycle moved on concurrently.
type racingCycles struct {
	*sqlite.Store
}

func (racingCycles) UpdateCycle(context.Context, int64, *domain.CycleUpdate, *domain.CycleCondition) (bool, error) {
	return false, nil
}

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type reconcilerFixture struct {
	store       *sqlite.Store
	asset       *domain.AssetConfig
	positions   *positionSourceMock
	r           *Reconciler
	completions []CycleCompletion
}

func newReconcilerFixture(t *testing.T, configure func(a *domain.AssetConfig)) *reconcilerFixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "dca.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := testAsset()
	cfg.ID = 0
	cfg.MaxSafetyOrders = 3
	cfg.MinOrderQuantity = d("0.0001")
	if configure != nil {
		configure(&cfg)
	}

	asset, err := store.UpsertAssetConfig(context.Background(), cfg)
	require.NoError(t, err)

	f := &reconcilerFixture{
		store:     store,
		asset:     asset,
		positions: &positionSourceMock{},
	}
	f.r = NewReconciler(zap.NewNop(), store, store, f.positions, NewAssetLocks(),
		WithClock(func() time.Time { return fixedNow }),
		WithCompletionHook(func(_ context.Context, c CycleCompletion) {
			f.completions = append(f.completions, c)
		}))

	t.Cleanup(func() { f.positions.AssertExpectations(t) })

	return f
}

// pendingCycle creates a cycle that has just submitted orderID.
func (f *reconcilerFixture) pendingCycle(t *testing.T, status domain.CycleStatus, qty, avg string, safety int, orderID string) *domain.Cycle {
	t.Helper()
	ctx := context.Background()

	p := domain.NewCycleParams{
		AssetID:              f.asset.ID,
		Status:               status,
		Quantity:             d(qty),
		AveragePurchasePrice: d(avg),
		SafetyOrders:         safety,
		LatestOrderID:        orderID,
		LatestOrderCreatedAt: &fixedNow,
	}
	if d(qty).IsPositive() {
		p.LastOrderFillPrice = decimal.NewNullDecimal(d(avg))
	}

	c, err := f.store.CreateCycle(ctx, p)
	require.NoError(t, err)
	return c
}

func (f *reconcilerFixture) reload(t *testing.T, id int64) *domain.Cycle {
	t.Helper()
	c, err := f.store.GetCycleByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func filled(orderID string, side domain.OrderSide, qty, price string) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:         orderID,
		Symbol:          "BTC/USD",
		Side:            side,
		Kind:            domain.OrderEventFilled,
		OrderedQuantity: d(qty),
		FilledQuantity:  d(qty),
		FillPrice:       d(price),
		Timestamp:       fixedNow,
	}
}

func TestReconciler_BaseFill(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	c := f.pendingCycle(t, domain.CycleStatusBuying, "0", "0", 0, "buy-1")

	require.NoError(t, f.r.HandleOrderEvent(context.Background(), filled("buy-1", domain.OrderSideBuy, "1", "100")))

	got := f.reload(t, c.ID)
	assert.Equal(t, domain.CycleStatusWatching, got.Status)
	assert.True(t, got.Quantity.Equal(d("1")))
	assert.True(t, got.AveragePurchasePrice.Equal(d("100")), "single fill average is the fill price")
	assert.True(t, got.LastOrderFillPrice.Decimal.Equal(d("100")))
	assert.Equal(t, 0, got.SafetyOrders)
	assert.Empty(t, got.LatestOrderID)
	assert.Nil(t, got.LatestOrderCreatedAt)
}

func TestReconciler_SafetyFills(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	c := f.pendingCycle(t, domain.CycleStatusBuying, "1", "100", 0, "safety-1")

	require.NoError(t, f.r.HandleOrderEvent(ctx, filled("safety-1", domain.OrderSideBuy, "2", "90")))

	got := f.reload(t, c.ID)
	assert.Equal(t, 1, got.SafetyOrders)
	assert.True(t, got.Quantity.Equal(d("3")))
	// (100*1 + 90*2) / 3
	assert.Equal(t, "93.33", got.AveragePurchasePrice.StringFixed(2))

	ok, err := f.store.UpdateCycle(ctx, c.ID,
		domain.NewCycleUpdate().SetStatus(domain.CycleStatusBuying).SetLatestOrder("safety-2", fixedNow), nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.r.HandleOrderEvent(ctx, filled("safety-2", domain.OrderSideBuy, "1", "80")))

	got = f.reload(t, c.ID)
	assert.Equal(t, 2, got.SafetyOrders)
	assert.True(t, got.Quantity.Equal(d("4")))
	// (100 + 180 + 80) / 4
	assert.True(t, got.AveragePurchasePrice.Equal(d("90")))
	assert.True(t, got.LastOrderFillPrice.Decimal.Equal(d("80")))
}

func TestReconciler_PartialFillDoesNotMutate(t *testing.T) {
	ctx := context.Background()

	direct := newReconcilerFixture(t, nil)
	dc := direct.pendingCycle(t, domain.CycleStatusBuying, "1", "100", 0, "buy-x")
	require.NoError(t, direct.r.HandleOrderEvent(ctx, filled("buy-x", domain.OrderSideBuy, "1", "95")))

	partial := newReconcilerFixture(t, nil)
	pc := partial.pendingCycle(t, domain.CycleStatusBuying, "1", "100", 0, "buy-x")
	before := partial.reload(t, pc.ID)

	require.NoError(t, partial.r.HandleOrderEvent(ctx, domain.OrderEvent{
		OrderID:         "buy-x",
		Side:            domain.OrderSideBuy,
		Kind:            domain.OrderEventPartiallyFilled,
		OrderedQuantity: d("1"),
		FilledQuantity:  d("0.4"),
		FillPrice:       d("95"),
	}))
	assert.Equal(t, before, partial.reload(t, pc.ID), "partial fill leaves the cycle untouched")

	require.NoError(t, partial.r.HandleOrderEvent(ctx, filled("buy-x", domain.OrderSideBuy, "1", "95")))

	want, got := direct.reload(t, dc.ID), partial.reload(t, pc.ID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.Quantity.Equal(got.Quantity))
	assert.True(t, want.AveragePurchasePrice.Equal(got.AveragePurchasePrice))
	assert.Equal(t, want.SafetyOrders, got.SafetyOrders)
	assert.Equal(t, want.LatestOrderID, got.LatestOrderID)
}

func TestReconciler_UnknownAndDuplicateEvents(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()

	err := f.r.HandleOrderEvent(ctx, filled("nobody", domain.OrderSideBuy, "1", "100"))
	require.ErrorIs(t, err, domain.ErrCycleNotFound)

	c := f.pendingCycle(t, domain.CycleStatusBuying, "0", "0", 0, "buy-1")
	require.NoError(t, f.r.HandleOrderEvent(ctx, filled("buy-1", domain.OrderSideBuy, "1", "100")))

	err = f.r.HandleOrderEvent(ctx, filled("buy-1", domain.OrderSideBuy, "1", "100"))
	require.ErrorIs(t, err, domain.ErrCycleNotFound, "an already reconciled fill is not applied twice")
	assert.True(t, f.reload(t, c.ID).Quantity.Equal(d("1")))

	err = f.r.HandleOrderEvent(ctx, domain.OrderEvent{OrderID: "nobody", Kind: domain.OrderEventCanceled})
	require.ErrorIs(t, err, domain.ErrCycleNotFound)
}

func TestReconciler_OrderOnIdleCycleIsStale(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	c := f.pendingCycle(t, domain.CycleStatusWatching, "1", "100", 0, "old-order")

	err := f.r.HandleOrderEvent(context.Background(), filled("old-order", domain.OrderSideBuy, "1", "90"))
	require.ErrorIs(t, err, domain.ErrStaleOrderMismatch)
	assert.True(t, f.reload(t, c.ID).Quantity.Equal(d("1")))
}

func TestReconciler_InvalidFillData(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	c := f.pendingCycle(t, domain.CycleStatusBuying, "1", "100", 0, "buy-1")
	before := f.reload(t, c.ID)

	err := f.r.HandleOrderEvent(ctx, filled("buy-1", domain.OrderSideBuy, "1", "0"))
	require.ErrorIs(t, err, domain.ErrInvalidFillData)

	err = f.r.HandleOrderEvent(ctx, filled("buy-1", domain.OrderSideBuy, "0", "100"))
	require.ErrorIs(t, err, domain.ErrInvalidFillData)

	err = f.r.HandleOrderEvent(ctx, filled("buy-1", domain.OrderSideSell, "1", "100"))
	require.ErrorIs(t, err, domain.ErrInvalidFillData, "side must match the cycle")

	err = f.r.HandleOrderEvent(ctx, domain.OrderEvent{Kind: domain.OrderEventFilled})
	require.ErrorIs(t, err, domain.ErrInvalidFillData)

	assert.Equal(t, before, f.reload(t, c.ID))
}

func TestReconciler_SellFillCompletesIntoCooldown(t *testing.T) {
	f := newReconcilerFixture(t, func(a *domain.AssetConfig) {
		a.CooldownPeriod = time.Hour
	})
	ctx := context.Background()
	c := f.pendingCycle(t, domain.CycleStatusSelling, "2", "99", 1, "sell-1")

	require.NoError(t, f.r.HandleOrderEvent(ctx, filled("sell-1", domain.OrderSideSell, "2", "102")))

	got := f.reload(t, c.ID)
	assert.Equal(t, domain.CycleStatusComplete, got.Status)
	assert.True(t, got.Quantity.IsZero())
	assert.True(t, got.AveragePurchasePrice.Equal(d("99")), "average price is kept as history")
	require.True(t, got.SellPrice.Valid)
	assert.True(t, got.SellPrice.Decimal.Equal(d("102")))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, fixedNow.Equal(*got.CompletedAt))
	assert.Empty(t, got.LatestOrderID)

	next, err := f.store.GetLatestCycle(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, next.ID)
	assert.Equal(t, domain.CycleStatusCooldown, next.Status)
	assert.True(t, next.Quantity.IsZero())

	asset, err := f.store.GetAssetConfigByID(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.True(t, asset.LastSellPrice.Decimal.Equal(d("102")))

	require.Len(t, f.completions, 1)
	assert.True(t, f.completions[0].RealizedPnL.Equal(d("6")))
	assert.Equal(t, next.ID, f.completions[0].NextCycleID)
}

func TestReconciler_SellFillWithoutCooldownStartsWatching(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	f.pendingCycle(t, domain.CycleStatusSelling, "1", "100", 0, "sell-1")

	require.NoError(t, f.r.HandleOrderEvent(ctx, filled("sell-1", domain.OrderSideSell, "1", "103")))

	next, err := f.store.GetLatestCycle(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleStatusWatching, next.Status)
}

func TestReconciler_BuyCancellation(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	c := f.pendingCycle(t, domain.CycleStatusBuying, "1", "100", 0, "buy-1")

	require.NoError(t, f.r.HandleOrderEvent(ctx, domain.OrderEvent{
		OrderID: "buy-1",
		Side:    domain.OrderSideBuy,
		Kind:    domain.OrderEventRejected,
	}))

	got := f.reload(t, c.ID)
	assert.Equal(t, domain.CycleStatusWatching, got.Status)
	assert.Empty(t, got.LatestOrderID)
	assert.True(t, got.Quantity.Equal(d("1")))
	assert.True(t, got.AveragePurchasePrice.Equal(d("100")))
	assert.Equal(t, 0, got.SafetyOrders)
}

func TestReconciler_BuyCancelledAfterPartialExecution(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	c := f.pendingCycle(t, domain.CycleStatusBuying, "0", "0", 0, "buy-1")

	require.NoError(t, f.r.HandleOrderEvent(context.Background(), domain.OrderEvent{
		OrderID:         "buy-1",
		Side:            domain.OrderSideBuy,
		Kind:            domain.OrderEventCanceled,
		OrderedQuantity: d("1"),
		FilledQuantity:  d("0.25"),
		FillPrice:       d("100"),
	}))

	got := f.reload(t, c.ID)
	assert.Equal(t, domain.CycleStatusWatching, got.Status)
	assert.True(t, got.Quantity.Equal(d("0.25")))
	assert.True(t, got.AveragePurchasePrice.Equal(d("100")))
}

func TestReconciler_SellCancellation(t *testing.T) {
	t.Run("remaining position resyncs the cycle", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		c := f.pendingCycle(t, domain.CycleStatusSelling, "2", "100", 1, "sell-1")

		f.positions.On("GetPosition", mock.Anything, "BTC/USD").
			Return(&domain.Position{Symbol: "BTC/USD", Quantity: d("1.5"), AvgEntryPrice: d("99.5")}, nil).Once()

		require.NoError(t, f.r.HandleOrderEvent(context.Background(),
			domain.OrderEvent{OrderID: "sell-1", Side: domain.OrderSideSell, Kind: domain.OrderEventCanceled}))

		got := f.reload(t, c.ID)
		assert.Equal(t, domain.CycleStatusWatching, got.Status)
		assert.True(t, got.Quantity.Equal(d("1.5")))
		assert.True(t, got.AveragePurchasePrice.Equal(d("99.5")))
		assert.Empty(t, got.LatestOrderID)
		assert.Empty(t, f.completions)
	})

	t.Run("unknown exchange average keeps stored average", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		c := f.pendingCycle(t, domain.CycleStatusSelling, "2", "100", 1, "sell-1")

		f.positions.On("GetPosition", mock.Anything, "BTC/USD").
			Return(&domain.Position{Symbol: "BTC/USD", Quantity: d("1.2")}, nil).Once()

		require.NoError(t, f.r.HandleOrderEvent(context.Background(),
			domain.OrderEvent{OrderID: "sell-1", Side: domain.OrderSideSell, Kind: domain.OrderEventExpired}))

		got := f.reload(t, c.ID)
		assert.True(t, got.Quantity.Equal(d("1.2")))
		assert.True(t, got.AveragePurchasePrice.Equal(d("100")))
	})

	t.Run("no position completes the cycle", func(t *testing.T) {
		f := newReconcilerFixture(t, func(a *domain.AssetConfig) {
			a.CooldownPeriod = time.Minute
		})
		ctx := context.Background()
		c := f.pendingCycle(t, domain.CycleStatusSelling, "2", "100", 1, "sell-1")

		f.positions.On("GetPosition", mock.Anything, "BTC/USD").
			Return(&domain.Position{Symbol: "BTC/USD", Quantity: d("0.00001")}, nil).Once()

		require.NoError(t, f.r.HandleOrderEvent(ctx, domain.OrderEvent{
			OrderID:   "sell-1",
			Side:      domain.OrderSideSell,
			Kind:      domain.OrderEventCanceled,
			FillPrice: d("104"),
		}))

		got := f.reload(t, c.ID)
		assert.Equal(t, domain.CycleStatusComplete, got.Status)
		assert.True(t, got.Quantity.IsZero())
		assert.True(t, got.SellPrice.Decimal.Equal(d("104")))

		next, err := f.store.GetLatestCycle(ctx, f.asset.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CycleStatusCooldown, next.Status)
		require.Len(t, f.completions, 1)
	})

	t.Run("unreachable exchange reverts without resync", func(t *testing.T) {
		f := newReconcilerFixture(t, func(a *domain.AssetConfig) {
			a.TTPEnabled = true
		})
		ctx := context.Background()
		c := f.pendingCycle(t, domain.CycleStatusSelling, "2", "100", 1, "sell-1")
		_, err := f.store.UpdateCycle(ctx, c.ID, domain.NewCycleUpdate().SetHighestTrailingPrice(d("110")), nil)
		require.NoError(t, err)

		f.positions.On("GetPosition", mock.Anything, "BTC/USD").
			Return(nil, errors.New("connection reset")).Once()

		require.NoError(t, f.r.HandleOrderEvent(ctx,
			domain.OrderEvent{OrderID: "sell-1", Side: domain.OrderSideSell, Kind: domain.OrderEventCanceled}))

		got := f.reload(t, c.ID)
		assert.Equal(t, domain.CycleStatusWatching, got.Status)
		assert.True(t, got.Quantity.Equal(d("2")))
		assert.True(t, got.AveragePurchasePrice.Equal(d("100")))
		assert.Equal(t, 1, got.SafetyOrders)
		assert.Empty(t, got.LatestOrderID)
		assert.False(t, got.HighestTrailingPrice.Valid)
	})
}

func TestReconciler_MissingAssetConfig(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	r := NewReconciler(zap.NewNop(), f.store, missingAssets{}, f.positions, nil)

	sell := f.pendingCycle(t, domain.CycleStatusSelling, "1", "100", 0, "sell-1")
	err := r.HandleOrderEvent(ctx, filled("sell-1", domain.OrderSideSell, "1", "105"))
	require.ErrorIs(t, err, domain.ErrConfigurationMissing)

	var rerr *domain.ReconciliationError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "sell-1", rerr.OrderID)

	got := f.reload(t, sell.ID)
	assert.Equal(t, domain.CycleStatusError, got.Status)
	assert.True(t, got.Quantity.Equal(d("1")), "position is not fabricated")
	assert.Empty(t, got.LatestOrderID)
}

func TestReconciler_MissingAssetConfigOnBuyFill(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()

	t.Run("position is kept and the cycle stops", func(t *testing.T) {
		r := NewReconciler(zap.NewNop(), f.store, missingAssets{}, f.positions, nil)
		buy := f.pendingCycle(t, domain.CycleStatusBuying, "0", "0", 0, "buy-1")

		err := r.HandleOrderEvent(ctx, filled("buy-1", domain.OrderSideBuy, "1", "100"))
		require.ErrorIs(t, err, domain.ErrConfigurationMissing)

		got := f.reload(t, buy.ID)
		assert.Equal(t, domain.CycleStatusError, got.Status)
		assert.True(t, got.Quantity.Equal(d("1")))
		assert.True(t, got.AveragePurchasePrice.Equal(d("100")))
	})

	t.Run("lost update is stale", func(t *testing.T) {
		r := NewReconciler(zap.NewNop(), racingCycles{f.store}, missingAssets{}, f.positions, nil)
		buy := f.pendingCycle(t, domain.CycleStatusBuying, "0", "0", 0, "buy-2")

		err := r.HandleOrderEvent(ctx, filled("buy-2", domain.OrderSideBuy, "1", "100"))
		require.ErrorIs(t, err, domain.ErrStaleOrderMismatch)
		assert.NotErrorIs(t, err, domain.ErrConfigurationMissing)

		got := f.reload(t, buy.ID)
		assert.Equal(t, domain.CycleStatusBuying, got.Status, "cycle untouched")
		assert.Equal(t, "buy-2", got.LatestOrderID)
	})
}

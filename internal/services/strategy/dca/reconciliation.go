package dca

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/metrics"
)

type cycleStore interface {
	GetCycleByID(ctx context.Context, id int64) (*domain.Cycle, error)
	GetCycleByOrderID(ctx context.Context, orderID string) (*domain.Cycle, error)
	CreateCycle(ctx context.Context, p domain.NewCycleParams) (*domain.Cycle, error)
	UpdateCycle(ctx context.Context, id int64, upd *domain.CycleUpdate, cond *domain.CycleCondition) (bool, error)
}

type assetStore interface {
	GetAssetConfigByID(ctx context.Context, id int64) (*domain.AssetConfig, error)
	UpdateAssetConfig(ctx context.Context, id int64, upd *domain.AssetConfigUpdate) (bool, error)
}

type positionSource interface {
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
}

// CycleCompletion describes a cycle that has just been closed.
type CycleCompletion struct {
	Symbol               string
	CycleID              int64
	NextCycleID          int64
	NextStatus           domain.CycleStatus
	QuantitySold         decimal.Decimal
	AveragePurchasePrice decimal.Decimal
	// SellPrice is invalid when a cancelled sell closed the cycle without a known execution price.
	SellPrice   decimal.NullDecimal
	RealizedPnL decimal.Decimal
	CompletedAt time.Time
}

// Reconciler folds exchange order events into the cycle that tracks the order.
type Reconciler struct {
	l         *zap.Logger
	cycles    cycleStore
	assets    assetStore
	positions positionSource
	locks     *AssetLocks

	now        func() time.Time
	onComplete func(ctx context.Context, c CycleCompletion)
}

// ReconcilerOption configures the Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the time source used for completion timestamps.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithCompletionHook registers a callback invoked after a cycle completes and its successor is created.
func WithCompletionHook(fn func(ctx context.Context, c CycleCompletion)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onComplete = fn
	}
}

func NewReconciler(l *zap.Logger, cycles cycleStore, assets assetStore, positions positionSource,
	locks *AssetLocks, opts ...ReconcilerOption) *Reconciler {
	if locks == nil {
		locks = NewAssetLocks()
	}

	r := &Reconciler{
		l:         l,
		cycles:    cycles,
		assets:    assets,
		positions: positions,
		locks:     locks,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// HandleOrderEvent applies one exchange order event.
// Every returned error is a *domain.ReconciliationError or a store failure; none of them
// should stop the caller's loop.
func (r *Reconciler) HandleOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	if ev.OrderID == "" {
		return r.fail(ev, domain.ErrInvalidFillData, errors.New("empty order id"))
	}

	switch ev.Kind {
	case domain.OrderEventNew:
		return nil
	case domain.OrderEventPartiallyFilled:
		r.l.Info("partial fill observed",
			zap.String("order_id", ev.OrderID),
			zap.String("symbol", ev.Symbol),
			zap.String("filled", ev.FilledQuantity.String()),
			zap.String("ordered", ev.OrderedQuantity.String()))

		return nil
	case domain.OrderEventFilled, domain.OrderEventCanceled, domain.OrderEventRejected, domain.OrderEventExpired:
	default:
		return r.fail(ev, domain.ErrInvalidFillData, errors.Errorf("unknown event kind %q", ev.Kind))
	}

	cycle, unlock, err := r.locate(ctx, ev)
	if err != nil {
		return err
	}
	defer unlock()

	var side domain.OrderSide
	switch cycle.Status {
	case domain.CycleStatusBuying:
		side = domain.OrderSideBuy
	case domain.CycleStatusSelling:
		side = domain.OrderSideSell
	default:
		return r.fail(ev, domain.ErrStaleOrderMismatch, errors.Errorf("cycle %d is %s", cycle.ID, cycle.Status))
	}
	if ev.Side != "" && ev.Side != side {
		return r.fail(ev, domain.ErrInvalidFillData, errors.Errorf("event side %s, cycle expects %s", ev.Side, side))
	}

	if ev.Kind == domain.OrderEventFilled {
		if side == domain.OrderSideBuy {
			return r.handleBuyFill(ctx, ev, cycle)
		}
		return r.handleSellFill(ctx, ev, cycle)
	}

	if side == domain.OrderSideBuy {
		return r.handleBuyCancellation(ctx, ev, cycle)
	}
	return r.handleSellCancellation(ctx, ev, cycle)
}

// locate finds the cycle tracking the event's order and locks its asset.
// The cycle is re-read under the lock so a concurrent decision cannot be overwritten.
func (r *Reconciler) locate(ctx context.Context, ev domain.OrderEvent) (*domain.Cycle, func(), error) {
	found, err := r.cycles.GetCycleByOrderID(ctx, ev.OrderID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to find cycle for order %s", ev.OrderID)
	}
	if found == nil {
		return nil, nil, r.fail(ev, domain.ErrCycleNotFound, nil)
	}

	unlock := r.locks.Lock(found.AssetID)

	cycle, err := r.cycles.GetCycleByID(ctx, found.ID)
	if err != nil {
		unlock()
		return nil, nil, errors.Wrapf(err, "failed to reload cycle %d", found.ID)
	}
	if cycle == nil {
		unlock()
		return nil, nil, r.fail(ev, domain.ErrCycleNotFound, nil)
	}
	if cycle.LatestOrderID != ev.OrderID {
		unlock()
		return nil, nil, r.fail(ev, domain.ErrStaleOrderMismatch,
			errors.Errorf("cycle %d now tracks %q", cycle.ID, cycle.LatestOrderID))
	}

	return cycle, unlock, nil
}

func (r *Reconciler) handleBuyFill(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle) error {
	if !ev.FilledQuantity.IsPositive() || !ev.FillPrice.IsPositive() {
		return r.fail(ev, domain.ErrInvalidFillData,
			errors.Errorf("buy fill qty %s price %s", ev.FilledQuantity.String(), ev.FillPrice.String()))
	}

	return r.applyBuyFill(ctx, ev, cycle)
}

func (r *Reconciler) applyBuyFill(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle) error {
	upd := domain.BuyFillUpdate(*cycle, ev.FilledQuantity, ev.FillPrice)

	asset, err := r.assets.GetAssetConfigByID(ctx, cycle.AssetID)
	if err != nil {
		return errors.Wrapf(err, "failed to load asset %d", cycle.AssetID)
	}
	if asset == nil {
		// keep the executed position but stop automated trading on this asset
		upd.SetStatus(domain.CycleStatusError)
		ok, err := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID))
		if err != nil {
			return errors.Wrapf(err, "failed to update cycle %d", cycle.ID)
		}
		if !ok {
			return r.fail(ev, domain.ErrStaleOrderMismatch, nil)
		}

		return r.fail(ev, domain.ErrConfigurationMissing, errors.Errorf("asset %d", cycle.AssetID))
	}

	next := upd.Apply(*cycle)
	if err := next.Validate(asset.MaxSafetyOrders); err != nil {
		r.l.Warn("buy fill breaks cycle invariants",
			zap.Int64("cycle_id", cycle.ID),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}

	ok, err := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID))
	if err != nil {
		return errors.Wrapf(err, "failed to update cycle %d", cycle.ID)
	}
	if !ok {
		return r.fail(ev, domain.ErrStaleOrderMismatch, nil)
	}

	metrics.Fills.WithLabelValues(asset.Symbol, string(domain.OrderSideBuy)).Inc()

	r.l.Info("buy fill applied",
		zap.String("symbol", asset.Symbol),
		zap.Int64("cycle_id", cycle.ID),
		zap.String("order_id", ev.OrderID),
		zap.String("fill_qty", ev.FilledQuantity.String()),
		zap.String("fill_price", ev.FillPrice.String()),
		zap.String("quantity", next.Quantity.String()),
		zap.String("avg_price", next.AveragePurchasePrice.String()),
		zap.Int("safety_orders", next.SafetyOrders))

	return nil
}

func (r *Reconciler) handleSellFill(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle) error {
	if !ev.FillPrice.IsPositive() {
		return r.fail(ev, domain.ErrInvalidFillData, errors.Errorf("sell fill price %s", ev.FillPrice.String()))
	}

	asset, err := r.requireAsset(ctx, ev, cycle)
	if err != nil {
		return err
	}

	qtySold := cycle.Quantity
	if ev.FilledQuantity.IsPositive() {
		qtySold = ev.FilledQuantity
	}

	metrics.Fills.WithLabelValues(asset.Symbol, string(domain.OrderSideSell)).Inc()

	return r.completeCycle(ctx, ev, cycle, asset, decimal.NewNullDecimal(ev.FillPrice), qtySold)
}

func (r *Reconciler) handleBuyCancellation(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle) error {
	// an order cancelled after executing partially still moved the position
	if ev.FilledQuantity.IsPositive() && ev.FillPrice.IsPositive() {
		r.l.Info("buy cancelled after partial execution, folding executed part",
			zap.String("order_id", ev.OrderID),
			zap.String("kind", string(ev.Kind)),
			zap.String("filled", ev.FilledQuantity.String()))

		return r.applyBuyFill(ctx, ev, cycle)
	}

	upd := domain.NewCycleUpdate().
		SetStatus(domain.CycleStatusWatching).
		ClearLatestOrder()

	ok, err := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID))
	if err != nil {
		return errors.Wrapf(err, "failed to update cycle %d", cycle.ID)
	}
	if !ok {
		return r.fail(ev, domain.ErrStaleOrderMismatch, nil)
	}

	r.l.Info("buy order ended without fill, cycle back to watching",
		zap.Int64("cycle_id", cycle.ID),
		zap.String("order_id", ev.OrderID),
		zap.String("kind", string(ev.Kind)))

	return nil
}

// handleSellCancellation asks the exchange what is left of the position.
// Remaining holdings resync the cycle, an empty holding closes it, and an
// unreachable exchange reverts to watching with the stored position untouched.
func (r *Reconciler) handleSellCancellation(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle) error {
	asset, err := r.requireAsset(ctx, ev, cycle)
	if err != nil {
		return err
	}

	pos, err := r.positions.GetPosition(ctx, asset.Symbol)
	if err != nil {
		upd := domain.NewCycleUpdate().
			SetStatus(domain.CycleStatusWatching).
			ClearLatestOrder().
			ClearHighestTrailingPrice()

		ok, uerr := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID))
		if uerr != nil {
			return errors.Wrapf(uerr, "failed to update cycle %d", cycle.ID)
		}
		if !ok {
			return r.fail(ev, domain.ErrStaleOrderMismatch, nil)
		}

		metrics.DegradedReconciliations.WithLabelValues(asset.Symbol).Inc()
		r.l.Warn("position unavailable after sell cancellation, reverted to watching without resync",
			zap.Bool("degraded_confidence", true),
			zap.String("symbol", asset.Symbol),
			zap.Int64("cycle_id", cycle.ID),
			zap.String("order_id", ev.OrderID),
			zap.String("kept_quantity", cycle.Quantity.String()),
			zap.Error(domain.NewReconciliationError(domain.ErrExchangeUnavailable, ev.OrderID, err)))

		return nil
	}

	if pos.IsNegligible(asset.MinOrderQuantity) {
		sellPrice := decimal.NullDecimal{}
		if ev.FillPrice.IsPositive() {
			sellPrice = decimal.NewNullDecimal(ev.FillPrice)
		}

		r.l.Info("sell cancelled but position is gone, completing cycle",
			zap.String("symbol", asset.Symbol),
			zap.Int64("cycle_id", cycle.ID),
			zap.String("order_id", ev.OrderID))

		return r.completeCycle(ctx, ev, cycle, asset, sellPrice, cycle.Quantity)
	}

	avg := pos.AvgEntryPrice
	if !avg.IsPositive() {
		avg = cycle.AveragePurchasePrice
	}

	upd := domain.NewCycleUpdate().
		SetQuantity(pos.Quantity).
		SetAveragePurchasePrice(avg).
		SetStatus(domain.CycleStatusWatching).
		ClearLatestOrder().
		ClearHighestTrailingPrice()

	ok, err := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID))
	if err != nil {
		return errors.Wrapf(err, "failed to update cycle %d", cycle.ID)
	}
	if !ok {
		return r.fail(ev, domain.ErrStaleOrderMismatch, nil)
	}

	r.l.Info("sell cancelled, cycle resynced from exchange position",
		zap.String("symbol", asset.Symbol),
		zap.Int64("cycle_id", cycle.ID),
		zap.String("order_id", ev.OrderID),
		zap.String("previous_quantity", cycle.Quantity.String()),
		zap.String("quantity", pos.Quantity.String()),
		zap.String("avg_price", avg.String()))

	return nil
}

// requireAsset loads the asset of a selling cycle. A missing asset moves the cycle to error.
func (r *Reconciler) requireAsset(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle) (*domain.AssetConfig, error) {
	asset, err := r.assets.GetAssetConfigByID(ctx, cycle.AssetID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load asset %d", cycle.AssetID)
	}
	if asset != nil {
		return asset, nil
	}

	upd := domain.NewCycleUpdate().
		SetStatus(domain.CycleStatusError).
		ClearLatestOrder()
	if _, err := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID)); err != nil {
		return nil, errors.Wrapf(err, "failed to update cycle %d", cycle.ID)
	}

	return nil, r.fail(ev, domain.ErrConfigurationMissing, errors.Errorf("asset %d", cycle.AssetID))
}

// completeCycle closes the cycle, books the sell price on the asset and opens the next cycle.
func (r *Reconciler) completeCycle(ctx context.Context, ev domain.OrderEvent, cycle *domain.Cycle,
	asset *domain.AssetConfig, sellPrice decimal.NullDecimal, qtySold decimal.Decimal) error {
	now := r.now()

	upd := domain.NewCycleUpdate().
		SetStatus(domain.CycleStatusComplete).
		SetQuantity(decimal.Zero).
		SetCompletedAt(now).
		ClearLatestOrder()
	if sellPrice.Valid {
		upd.SetSellPrice(sellPrice.Decimal)
	}

	ok, err := r.cycles.UpdateCycle(ctx, cycle.ID, upd, domain.WhenLatestOrder(ev.OrderID))
	if err != nil {
		return errors.Wrapf(err, "failed to complete cycle %d", cycle.ID)
	}
	if !ok {
		return r.fail(ev, domain.ErrStaleOrderMismatch, nil)
	}

	if sellPrice.Valid {
		if _, err := r.assets.UpdateAssetConfig(ctx, asset.ID,
			(&domain.AssetConfigUpdate{}).SetLastSellPrice(sellPrice.Decimal)); err != nil {
			r.l.Error("failed to record last sell price",
				zap.String("symbol", asset.Symbol),
				zap.Error(err))
		}
	}

	nextStatus := domain.NextCycleStatus(asset.CooldownPeriod)
	next, err := r.cycles.CreateCycle(ctx, domain.NewCycleParams{
		AssetID: asset.ID,
		Status:  nextStatus,
	})
	if err != nil {
		return errors.Wrapf(err, "cycle %d completed but next cycle was not created", cycle.ID)
	}

	closed := *cycle
	closed.SellPrice = sellPrice
	pnl := closed.RealizedPnL(qtySold)

	metrics.CyclesCompleted.WithLabelValues(asset.Symbol).Inc()
	metrics.RealizedPnL.WithLabelValues(asset.Symbol).Set(pnl.InexactFloat64())

	r.l.Info("cycle completed",
		zap.String("symbol", asset.Symbol),
		zap.Int64("cycle_id", cycle.ID),
		zap.Int64("next_cycle_id", next.ID),
		zap.String("next_status", string(nextStatus)),
		zap.String("quantity_sold", qtySold.String()),
		zap.String("avg_price", cycle.AveragePurchasePrice.String()),
		zap.String("sell_price", sellPrice.Decimal.String()),
		zap.String("realized_pnl", pnl.String()))

	if r.onComplete != nil {
		r.onComplete(ctx, CycleCompletion{
			Symbol:               asset.Symbol,
			CycleID:              cycle.ID,
			NextCycleID:          next.ID,
			NextStatus:           nextStatus,
			QuantitySold:         qtySold,
			AveragePurchasePrice: cycle.AveragePurchasePrice,
			SellPrice:            sellPrice,
			RealizedPnL:          pnl,
			CompletedAt:          now,
		})
	}

	return nil
}

// fail logs a reconciliation error at the level its kind calls for and returns it.
func (r *Reconciler) fail(ev domain.OrderEvent, kind, cause error) error {
	rerr := domain.NewReconciliationError(kind, ev.OrderID, cause)
	fields := []zap.Field{
		zap.String("order_id", ev.OrderID),
		zap.String("symbol", ev.Symbol),
		zap.String("kind", string(ev.Kind)),
		zap.Error(rerr),
	}

	switch {
	case errors.Is(kind, domain.ErrStaleOrderMismatch):
		r.l.Info("order event no longer matches cycle, skipped", fields...)
	case errors.Is(kind, domain.ErrCycleNotFound):
		r.l.Warn("order event for untracked order, skipped", fields...)
	default:
		r.l.Error("order event could not be reconciled", fields...)
	}

	metrics.ReconciliationErrors.WithLabelValues(kindLabel(kind)).Inc()

	return rerr
}

func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, domain.ErrConfigurationMissing):
		return "configuration_missing"
	case errors.Is(kind, domain.ErrCycleNotFound):
		return "cycle_not_found"
	case errors.Is(kind, domain.ErrInvalidFillData):
		return "invalid_fill_data"
	case errors.Is(kind, domain.ErrStaleOrderMismatch):
		return "stale_order_mismatch"
	case errors.Is(kind, domain.ErrExchangeUnavailable):
		return "exchange_unavailable"
	}
	return "unknown"
}

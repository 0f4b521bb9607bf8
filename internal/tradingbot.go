package internal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/metrics"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcabot/internal/storage/journal"
	"github.com/vadiminshakov/dcabot/pkg/retrier"
)

type botStore interface {
	GetAssetConfigByID(ctx context.Context, id int64) (*domain.AssetConfig, error)
	GetLatestCycle(ctx context.Context, assetID int64) (*domain.Cycle, error)
	CreateCycle(ctx context.Context, p domain.NewCycleParams) (*domain.Cycle, error)
	UpdateCycle(ctx context.Context, id int64, upd *domain.CycleUpdate, cond *domain.CycleCondition) (bool, error)
}

type orderJournal interface {
	Prepare(intent domain.OrderIntent, orderID string, cycleID, assetID int64, at time.Time) (*journal.Entry, error)
	MarkDone(orderID string) error
	MarkFailed(orderID string, reason error) error
}

type orderReconciler interface {
	HandleOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}

// Dependencies are the collaborators shared by every per-asset bot.
type Dependencies struct {
	Store      botStore
	Exchange   Exchange
	Ticks      TickSource
	Engine     *dca.Engine
	Reconciler orderReconciler
	Journal    orderJournal
	Locks      *dca.AssetLocks
}

// Settings tune the loop of one bot.
type Settings struct {
	PollInterval time.Duration
	// OrderNotFoundGrace is how long an order unknown to the exchange is still waited for.
	OrderNotFoundGrace time.Duration
}

// TradingBot drives the cycles of a single asset.
type TradingBot struct {
	l        *zap.Logger
	assetID  int64
	symbol   string
	deps     Dependencies
	settings Settings
	retrier  *retrier.Retrier

	now        func() time.Time
	newOrderID func() string
}

// NewTradingBot creates a bot for asset. The asset must already be stored.
func NewTradingBot(logger *zap.Logger, asset domain.AssetConfig, deps Dependencies, settings Settings) (*TradingBot, error) {
	if asset.ID == 0 {
		return nil, errors.Errorf("asset %s is not persisted", asset.Symbol)
	}
	if deps.Store == nil || deps.Exchange == nil || deps.Ticks == nil || deps.Engine == nil ||
		deps.Reconciler == nil || deps.Journal == nil {
		return nil, errors.New("incomplete trading bot dependencies")
	}
	if deps.Locks == nil {
		deps.Locks = dca.NewAssetLocks()
	}
	if settings.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	return &TradingBot{
		l:        logger.With(zap.String("symbol", asset.Symbol)),
		assetID:  asset.ID,
		symbol:   asset.Symbol,
		deps:     deps,
		settings: settings,
		retrier: retrier.New(
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithMaxInterval(2*time.Second),
			retrier.WithMaxRetries(2),
			retrier.WithRetryIf(func(err error) bool { return !errors.Is(err, domain.ErrOrderNotFound) }),
		),
		now:        func() time.Time { return time.Now().UTC() },
		newOrderID: func() string { return uuid.NewString() },
	}, nil
}

// Run steps the bot every poll interval until ctx is done.
// Step failures are logged and never end the loop.
func (b *TradingBot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.settings.PollInterval)
	defer ticker.Stop()

	b.l.Info("starting trading loop", zap.Duration("poll_interval", b.settings.PollInterval))

	for {
		if err := b.Step(ctx); err != nil && ctx.Err() == nil {
			b.l.Error("trading step failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			b.l.Info("context done, stopping trading loop")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step syncs the pending order, reads a tick and applies at most one strategy action.
func (b *TradingBot) Step(ctx context.Context) error {
	cycle, err := b.deps.Store.GetLatestCycle(ctx, b.assetID)
	if err != nil {
		return errors.Wrap(err, "failed to load latest cycle")
	}
	if cycle.HasPendingOrder() {
		if err := b.syncOrder(ctx, cycle); err != nil {
			return err
		}
	}

	tick, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (domain.MarketTick, error) {
		return b.deps.Ticks.GetTick(ctx, b.symbol)
	})
	if err != nil {
		return errors.Wrap(err, "failed to get tick")
	}

	return b.evaluate(ctx, tick)
}

// syncOrder feeds the exchange state of the cycle's pending order to reconciliation.
func (b *TradingBot) syncOrder(ctx context.Context, cycle *domain.Cycle) error {
	orderID := cycle.LatestOrderID

	ev, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (domain.OrderEvent, error) {
		return b.deps.Exchange.GetOrder(ctx, b.symbol, orderID)
	})
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		if cycle.LatestOrderCreatedAt != nil && b.now().Sub(*cycle.LatestOrderCreatedAt) < b.settings.OrderNotFoundGrace {
			b.l.Debug("order not visible on exchange yet", zap.String("order_id", orderID))
			return nil
		}
		b.l.Warn("order unknown to exchange, treating as rejected", zap.String("order_id", orderID))
		ev = domain.OrderEvent{
			OrderID:   orderID,
			Symbol:    b.symbol,
			Side:      pendingSide(cycle.Status),
			Kind:      domain.OrderEventRejected,
			Timestamp: b.now(),
		}
	case err != nil:
		return errors.Wrapf(err, "failed to get order %s", orderID)
	}

	if ev.OrderID == "" {
		ev.OrderID = orderID
	}
	if ev.Kind == domain.OrderEventNew {
		return nil
	}

	err = b.deps.Reconciler.HandleOrderEvent(ctx, ev)
	var recErr *domain.ReconciliationError
	if err != nil && !errors.As(err, &recErr) {
		return errors.Wrapf(err, "failed to reconcile order %s", orderID)
	}

	if ev.Kind.Terminal() {
		b.finishJournal(orderID, ev)
	}

	return nil
}

func (b *TradingBot) finishJournal(orderID string, ev domain.OrderEvent) {
	var err error
	if ev.Kind == domain.OrderEventFilled {
		err = b.deps.Journal.MarkDone(orderID)
	} else {
		err = b.deps.Journal.MarkFailed(orderID, errors.Errorf("order %s", ev.Kind))
	}
	if err != nil {
		b.l.Warn("failed to update order journal", zap.String("order_id", orderID), zap.Error(err))
	}
}

// evaluate runs the engine on the current cycle under the asset lock.
func (b *TradingBot) evaluate(ctx context.Context, tick domain.MarketTick) error {
	unlock := b.deps.Locks.Lock(b.assetID)
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	asset, err := b.deps.Store.GetAssetConfigByID(ctx, b.assetID)
	if err != nil {
		return errors.Wrap(err, "failed to load asset config")
	}
	if asset == nil {
		return errors.Wrapf(domain.ErrConfigurationMissing, "asset %d", b.assetID)
	}
	if !asset.IsEnabled {
		return nil
	}

	cycle, err := b.currentCycle(ctx, asset)
	if err != nil || cycle == nil {
		return err
	}

	var position *domain.Position
	if cycle.Status == domain.CycleStatusWatching && cycle.Quantity.IsZero() {
		position, err = b.deps.Exchange.GetPosition(ctx, b.symbol)
		if err != nil {
			// an unknown holding must not be read as an empty one
			b.l.Warn("position unavailable, skipping base order check", zap.Error(err))
			return nil
		}
	}

	action := b.deps.Engine.Decide(tick, *asset, *cycle, position)
	if action == nil {
		return nil
	}

	metrics.Decisions.WithLabelValues(b.symbol, action.Reason).Inc()
	b.l.Info("strategy decision",
		zap.String("reason", action.Reason),
		zap.Int64("cycle_id", cycle.ID),
		zap.String("ask", tick.AskPrice.String()),
		zap.String("bid", tick.BidPrice.String()))

	if action.Order == nil {
		return b.applyUpdate(ctx, cycle, action)
	}

	orderID, err := b.linkOrder(ctx, cycle, action)
	if err != nil || orderID == "" {
		return err
	}

	unlock()
	locked = false

	return b.submit(ctx, cycle, *action.Order, orderID)
}

// currentCycle returns the cycle to trade, opening one when the asset has none.
// A nil cycle means there is nothing to do on this tick.
func (b *TradingBot) currentCycle(ctx context.Context, asset *domain.AssetConfig) (*domain.Cycle, error) {
	cycle, err := b.deps.Store.GetLatestCycle(ctx, asset.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load latest cycle")
	}

	if cycle == nil || cycle.Status == domain.CycleStatusComplete {
		cycle, err = b.deps.Store.CreateCycle(ctx, domain.NewCycleParams{AssetID: asset.ID, Status: domain.CycleStatusWatching})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create cycle")
		}
		b.l.Info("opened cycle", zap.Int64("cycle_id", cycle.ID))
	}

	switch cycle.Status {
	case domain.CycleStatusError:
		b.l.Debug("cycle needs operator attention", zap.Int64("cycle_id", cycle.ID))
		return nil, nil
	case domain.CycleStatusCooldown:
		return nil, nil
	}

	return cycle, nil
}

func (b *TradingBot) applyUpdate(ctx context.Context, cycle *domain.Cycle, action *domain.StrategyAction) error {
	upd := action.PersistedUpdate()
	if upd.IsEmpty() {
		return nil
	}

	applied, err := b.deps.Store.UpdateCycle(ctx, cycle.ID, upd, domain.WhenStatus(cycle.Status))
	if err != nil {
		return errors.Wrapf(err, "failed to apply %s", action.Reason)
	}
	if !applied {
		b.l.Info("cycle changed concurrently, update skipped", zap.Int64("cycle_id", cycle.ID), zap.String("reason", action.Reason))
	}

	return nil
}

// linkOrder journals the order and stores the optimistic transition together with the order id.
// An empty id means the cycle moved on and nothing should be submitted.
func (b *TradingBot) linkOrder(ctx context.Context, cycle *domain.Cycle, action *domain.StrategyAction) (string, error) {
	orderID := b.newOrderID()
	now := b.now()

	if _, err := b.deps.Journal.Prepare(*action.Order, orderID, cycle.ID, b.assetID, now); err != nil {
		return "", errors.Wrap(err, "failed to journal order")
	}

	upd := action.PersistedUpdate().SetLatestOrder(orderID, now)
	applied, err := b.deps.Store.UpdateCycle(ctx, cycle.ID, upd, domain.WhenStatus(cycle.Status))
	if err != nil {
		b.markFailed(orderID, err)
		return "", errors.Wrap(err, "failed to link order to cycle")
	}
	if !applied {
		b.markFailed(orderID, errors.New("cycle changed before submission"))
		b.l.Info("cycle changed concurrently, order dropped", zap.Int64("cycle_id", cycle.ID))
		return "", nil
	}

	return orderID, nil
}

func (b *TradingBot) submit(ctx context.Context, cycle *domain.Cycle, intent domain.OrderIntent, orderID string) error {
	side := string(intent.Side)

	exchangeID, err := b.deps.Exchange.PlaceOrder(ctx, intent, orderID)
	if err == nil {
		metrics.Orders.WithLabelValues(b.symbol, side, string(intent.Role)).Inc()
		b.l.Info("order placed",
			zap.String("order_id", orderID),
			zap.String("exchange_order_id", exchangeID),
			zap.Stringer("order", intent))
		return nil
	}

	metrics.OrderFailures.WithLabelValues(b.symbol, side).Inc()

	// the request may have reached the exchange even though the call failed
	_, lookupErr := b.deps.Exchange.GetOrder(ctx, b.symbol, orderID)
	if lookupErr == nil {
		b.l.Warn("order submission errored but the order exists, keeping it linked",
			zap.String("order_id", orderID), zap.Error(err))
		return nil
	}
	if !errors.Is(lookupErr, domain.ErrOrderNotFound) {
		// order state is unknown: keep it linked and let polling resolve it
		b.l.Warn("order submission errored and the order lookup failed, keeping it linked",
			zap.String("order_id", orderID), zap.Error(err), zap.NamedError("lookup_error", lookupErr))
		return errors.Wrapf(err, "failed to place %s, order state unknown", intent.String())
	}

	unlock := b.deps.Locks.Lock(b.assetID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	revert := domain.NewCycleUpdate().SetStatus(cycle.Status).ClearLatestOrder()
	if _, revertErr := b.deps.Store.UpdateCycle(ctx, cycle.ID, revert, domain.WhenLatestOrder(orderID)); revertErr != nil {
		b.l.Error("failed to revert cycle after rejected order", zap.String("order_id", orderID), zap.Error(revertErr))
	}
	b.markFailed(orderID, err)

	return errors.Wrapf(err, "failed to place %s", intent.String())
}

func (b *TradingBot) markFailed(orderID string, reason error) {
	if err := b.deps.Journal.MarkFailed(orderID, reason); err != nil {
		b.l.Warn("failed to update order journal", zap.String("order_id", orderID), zap.Error(err))
	}
}

func pendingSide(status domain.CycleStatus) domain.OrderSide {
	if status == domain.CycleStatusSelling {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

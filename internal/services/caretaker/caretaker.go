// Package caretaker runs the scheduled housekeeping of cycles: it releases
// cooldowns that have run out and opens a cycle for assets left without one.
package caretaker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/metrics"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
)

const (
	actionCooldownReleased = "cooldown_released"
	actionCycleCreated     = "cycle_created"
)

type store interface {
	ListAssetConfigs(ctx context.Context) ([]domain.AssetConfig, error)
	ListCyclesByStatus(ctx context.Context, status domain.CycleStatus) ([]domain.Cycle, error)
	GetLatestCycle(ctx context.Context, assetID int64) (*domain.Cycle, error)
	CreateCycle(ctx context.Context, p domain.NewCycleParams) (*domain.Cycle, error)
	UpdateCycle(ctx context.Context, id int64, upd *domain.CycleUpdate, cond *domain.CycleCondition) (bool, error)
}

type Caretaker struct {
	l     *zap.Logger
	store store
	locks *dca.AssetLocks
	cron  *cron.Cron
	now   func() time.Time
}

func New(l *zap.Logger, s store, locks *dca.AssetLocks) *Caretaker {
	if locks == nil {
		locks = dca.NewAssetLocks()
	}
	return &Caretaker{
		l:     l,
		store: s,
		locks: locks,
		cron:  cron.New(cron.WithSeconds()),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules Sweep on a cron schedule with seconds and returns after the scheduler starts.
// The scheduler stops when ctx is done.
func (c *Caretaker) Start(ctx context.Context, schedule string) error {
	if _, err := c.cron.AddFunc(schedule, func() {
		if err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
			c.l.Error("caretaker sweep failed", zap.Error(err))
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid caretaker schedule %q", schedule)
	}

	c.cron.Start()
	c.l.Info("caretaker started", zap.String("schedule", schedule))

	go func() {
		<-ctx.Done()
		<-c.cron.Stop().Done()
		c.l.Info("caretaker stopped")
	}()

	return nil
}

// Sweep runs both housekeeping jobs once.
func (c *Caretaker) Sweep(ctx context.Context) error {
	assets, err := c.store.ListAssetConfigs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list assets")
	}

	byID := make(map[int64]domain.AssetConfig, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	if err := c.releaseCooldowns(ctx, byID); err != nil {
		return err
	}

	return c.repairMissingCycles(ctx, assets)
}

func (c *Caretaker) releaseCooldowns(ctx context.Context, assets map[int64]domain.AssetConfig) error {
	cycles, err := c.store.ListCyclesByStatus(ctx, domain.CycleStatusCooldown)
	if err != nil {
		return errors.Wrap(err, "failed to list cooldown cycles")
	}

	now := c.now()
	for _, cycle := range cycles {
		// a cycle whose asset was removed keeps waiting
		asset, ok := assets[cycle.AssetID]
		if !ok || cycle.CreatedAt.Add(asset.CooldownPeriod).After(now) {
			continue
		}

		unlock := c.locks.Lock(cycle.AssetID)
		applied, err := c.store.UpdateCycle(ctx, cycle.ID,
			domain.NewCycleUpdate().SetStatus(domain.CycleStatusWatching),
			domain.WhenStatus(domain.CycleStatusCooldown))
		unlock()
		if err != nil {
			return errors.Wrapf(err, "failed to release cooldown of cycle %d", cycle.ID)
		}
		if applied {
			metrics.CaretakerActions.WithLabelValues(actionCooldownReleased).Inc()
			c.l.Info("cooldown finished", zap.String("symbol", asset.Symbol), zap.Int64("cycle_id", cycle.ID))
		}
	}

	return nil
}

func (c *Caretaker) repairMissingCycles(ctx context.Context, assets []domain.AssetConfig) error {
	for _, asset := range assets {
		if !asset.IsEnabled {
			continue
		}
		if err := c.ensureCycle(ctx, asset); err != nil {
			return err
		}
	}
	return nil
}

func (c *Caretaker) ensureCycle(ctx context.Context, asset domain.AssetConfig) error {
	unlock := c.locks.Lock(asset.ID)
	defer unlock()

	latest, err := c.store.GetLatestCycle(ctx, asset.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to load latest cycle of %s", asset.Symbol)
	}
	if latest != nil && latest.Status != domain.CycleStatusComplete {
		return nil
	}

	created, err := c.store.CreateCycle(ctx, domain.NewCycleParams{AssetID: asset.ID, Status: domain.CycleStatusWatching})
	if err != nil {
		return errors.Wrapf(err, "failed to create cycle for %s", asset.Symbol)
	}

	metrics.CaretakerActions.WithLabelValues(actionCycleCreated).Inc()
	c.l.Info("opened missing cycle", zap.String("symbol", asset.Symbol), zap.Int64("cycle_id", created.ID))

	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const assetColumns = `id, symbol, is_enabled, base_order_amount, safety_order_amount, max_safety_orders,
	safety_order_deviation, take_profit_percent, ttp_enabled, ttp_deviation_percent, cooldown_seconds,
	last_sell_price, min_order_quantity, quantity_step, price_step`

// UpsertAssetConfig inserts the asset or refreshes its static parameters.
// The runtime bookkeeping field last_sell_price is never overwritten.
func (s *Store) UpsertAssetConfig(ctx context.Context, a domain.AssetConfig) (*domain.AssetConfig, error) {
	if err := a.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid asset config")
	}

	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (symbol, is_enabled, base_order_amount, safety_order_amount, max_safety_orders,
			safety_order_deviation, take_profit_percent, ttp_enabled, ttp_deviation_percent, cooldown_seconds,
			min_order_quantity, quantity_step, price_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			base_order_amount = excluded.base_order_amount,
			safety_order_amount = excluded.safety_order_amount,
			max_safety_orders = excluded.max_safety_orders,
			safety_order_deviation = excluded.safety_order_deviation,
			take_profit_percent = excluded.take_profit_percent,
			ttp_enabled = excluded.ttp_enabled,
			ttp_deviation_percent = excluded.ttp_deviation_percent,
			cooldown_seconds = excluded.cooldown_seconds,
			min_order_quantity = excluded.min_order_quantity,
			quantity_step = excluded.quantity_step,
			price_step = excluded.price_step,
			updated_at = excluded.updated_at`,
		a.Symbol, boolToInt(a.IsEnabled), a.BaseOrderAmount.String(), a.SafetyOrderAmount.String(), a.MaxSafetyOrders,
		a.SafetyOrderDeviation.String(), a.TakeProfitPercent.String(), boolToInt(a.TTPEnabled), a.TTPDeviationPercent.String(),
		int64(a.CooldownPeriod/time.Second), a.MinOrderQuantity.String(), a.QuantityStep.String(), a.PriceStep.String(), now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert asset %s", a.Symbol)
	}

	return s.GetAssetConfig(ctx, a.Symbol)
}

// GetAssetConfig returns the asset with the given symbol, or nil when there is none.
func (s *Store) GetAssetConfig(ctx context.Context, symbol string) (*domain.AssetConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE symbol = ?`, symbol)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load asset %s", symbol)
	}
	return a, nil
}

// GetAssetConfigByID returns the asset with the given id, or nil when there is none.
func (s *Store) GetAssetConfigByID(ctx context.Context, id int64) (*domain.AssetConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load asset %d", id)
	}
	return a, nil
}

// ListAssetConfigs returns all assets ordered by id.
func (s *Store) ListAssetConfigs(ctx context.Context) ([]domain.AssetConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assets")
	}
	defer rows.Close()

	var out []domain.AssetConfig
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan asset")
		}
		out = append(out, *a)
	}

	return out, rows.Err()
}

// UpdateAssetConfig applies a partial update and reports whether a row changed.
func (s *Store) UpdateAssetConfig(ctx context.Context, id int64, upd *domain.AssetConfigUpdate) (bool, error) {
	if upd.IsEmpty() {
		return false, nil
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if upd.IsEnabled != nil {
		sets = append(sets, "is_enabled = ?")
		args = append(args, boolToInt(*upd.IsEnabled))
	}
	if upd.LastSellPrice != nil {
		sets = append(sets, "last_sell_price = ?")
		args = append(args, upd.LastSellPrice.String())
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), id)

	res, err := s.db.ExecContext(ctx, `UPDATE assets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update asset %d", id)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}

	return n > 0, nil
}

func scanAsset(row scanner) (*domain.AssetConfig, error) {
	var (
		a                domain.AssetConfig
		enabled, ttp     int
		cooldownSeconds  int64
		lastSellPrice    decimal.NullDecimal
		minQty, stepSize decimal.Decimal
		priceStep        decimal.Decimal
	)

	err := row.Scan(&a.ID, &a.Symbol, &enabled, &a.BaseOrderAmount, &a.SafetyOrderAmount, &a.MaxSafetyOrders,
		&a.SafetyOrderDeviation, &a.TakeProfitPercent, &ttp, &a.TTPDeviationPercent, &cooldownSeconds,
		&lastSellPrice, &minQty, &stepSize, &priceStep)
	if err != nil {
		return nil, err
	}

	a.IsEnabled = enabled != 0
	a.TTPEnabled = ttp != 0
	a.CooldownPeriod = time.Duration(cooldownSeconds) * time.Second
	a.LastSellPrice = lastSellPrice
	a.MinOrderQuantity = minQty
	a.QuantityStep = stepSize
	a.PriceStep = priceStep

	return &a, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const cycleColumns = `id, asset_id, status, quantity, average_purchase_price, safety_orders,
	latest_order_id, latest_order_created_at, last_order_fill_price, highest_trailing_price, sell_price,
	created_at, updated_at, completed_at`

// GetLatestCycle returns the most recent cycle of an asset, or nil.
func (s *Store) GetLatestCycle(ctx context.Context, assetID int64) (*domain.Cycle, error) {
	return s.queryCycle(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE asset_id = ? ORDER BY id DESC LIMIT 1`, assetID)
}

// GetCycleByID returns the cycle with the given id, or nil.
func (s *Store) GetCycleByID(ctx context.Context, id int64) (*domain.Cycle, error) {
	return s.queryCycle(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
}

// GetCycleByOrderID returns the cycle whose outstanding order is orderID, or nil.
func (s *Store) GetCycleByOrderID(ctx context.Context, orderID string) (*domain.Cycle, error) {
	if orderID == "" {
		return nil, nil
	}
	return s.queryCycle(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE latest_order_id = ? ORDER BY id DESC LIMIT 1`, orderID)
}

// ListCyclesByStatus returns every cycle in the given status ordered by id.
func (s *Store) ListCyclesByStatus(ctx context.Context, status domain.CycleStatus) ([]domain.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s cycles", status)
	}
	defer rows.Close()

	var out []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cycle")
		}
		out = append(out, *c)
	}

	return out, rows.Err()
}

// CreateCycle inserts a new cycle. An empty status means watching.
func (s *Store) CreateCycle(ctx context.Context, p domain.NewCycleParams) (*domain.Cycle, error) {
	if p.Status == "" {
		p.Status = domain.CycleStatusWatching
	}
	if !p.Status.Valid() {
		return nil, errors.Errorf("unknown cycle status %q", p.Status)
	}

	var orderID sql.NullString
	if p.LatestOrderID != "" {
		orderID = sql.NullString{String: p.LatestOrderID, Valid: true}
	}

	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (asset_id, status, quantity, average_purchase_price, safety_orders,
			latest_order_id, latest_order_created_at, last_order_fill_price, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AssetID, string(p.Status), p.Quantity.String(), p.AveragePurchasePrice.String(), p.SafetyOrders,
		orderID, nullTime(p.LatestOrderCreatedAt), p.LastOrderFillPrice, now, now, nullTime(p.CompletedAt))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cycle for asset %d", p.AssetID)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cycle id")
	}

	return s.GetCycleByID(ctx, id)
}

// UpdateCycle applies upd to cycle id when the stored row satisfies cond.
// It reports true iff a row was changed.
func (s *Store) UpdateCycle(ctx context.Context, id int64, upd *domain.CycleUpdate, cond *domain.CycleCondition) (bool, error) {
	if upd.IsEmpty() {
		return false, nil
	}

	sets, args := cycleSetClause(upd)
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()))

	where := []string{"id = ?"}
	args = append(args, id)
	if cond != nil {
		if cond.Status != nil {
			where = append(where, "status = ?")
			args = append(args, string(*cond.Status))
		}
		if cond.LatestOrderID != nil {
			if *cond.LatestOrderID == "" {
				where = append(where, "latest_order_id IS NULL")
			} else {
				where = append(where, "latest_order_id = ?")
				args = append(args, *cond.LatestOrderID)
			}
		}
	}

	query := `UPDATE cycles SET ` + strings.Join(sets, ", ") + ` WHERE ` + strings.Join(where, " AND ")
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update cycle %d", id)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}

	return n > 0, nil
}

func cycleSetClause(upd *domain.CycleUpdate) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, v any) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}

	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Quantity != nil {
		set("quantity", upd.Quantity.String())
	}
	if upd.AveragePurchasePrice != nil {
		set("average_purchase_price", upd.AveragePurchasePrice.String())
	}
	if upd.SafetyOrders != nil {
		set("safety_orders", *upd.SafetyOrders)
	}

	switch {
	case upd.LatestOrderID != nil:
		set("latest_order_id", *upd.LatestOrderID)
		set("latest_order_created_at", nullTime(upd.LatestOrderCreatedAt))
	case upd.ResetLatestOrder:
		set("latest_order_id", nil)
		set("latest_order_created_at", nil)
	}

	if upd.LastOrderFillPrice != nil {
		set("last_order_fill_price", upd.LastOrderFillPrice.String())
	}

	switch {
	case upd.HighestTrailingPrice != nil:
		set("highest_trailing_price", upd.HighestTrailingPrice.String())
	case upd.ResetHighestTrailingPrice:
		set("highest_trailing_price", nil)
	}

	if upd.SellPrice != nil {
		set("sell_price", upd.SellPrice.String())
	}
	if upd.CompletedAt != nil {
		set("completed_at", formatTime(*upd.CompletedAt))
	}

	return sets, args
}

func (s *Store) queryCycle(ctx context.Context, query string, args ...any) (*domain.Cycle, error) {
	c, err := scanCycle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load cycle")
	}
	return c, nil
}

func scanCycle(row scanner) (*domain.Cycle, error) {
	var (
		c                                 domain.Cycle
		status                            string
		orderID, orderCreatedAt           sql.NullString
		createdAt, updatedAt              string
		completedAt                       sql.NullString
		lastFill, highestTrailing, sellPx decimal.NullDecimal
	)

	err := row.Scan(&c.ID, &c.AssetID, &status, &c.Quantity, &c.AveragePurchasePrice, &c.SafetyOrders,
		&orderID, &orderCreatedAt, &lastFill, &highestTrailing, &sellPx,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CycleStatus(status)
	c.LatestOrderID = orderID.String
	c.LastOrderFillPrice = lastFill
	c.HighestTrailingPrice = highestTrailing
	c.SellPrice = sellPx

	if c.LatestOrderCreatedAt, err = parseNullTime(orderCreatedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if c.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

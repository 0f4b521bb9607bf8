// Package sqlite stores asset configurations and DCA cycles in SQLite.
// Decimals are kept as TEXT so no precision is lost on the way through the database.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	driverName     = "sqlite"
	dirPermissions = 0o755
	timeLayout     = time.RFC3339Nano
)

// Store is the Cycle Store and the Asset Config Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path and creates missing tables.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to ensure database directory %s", dir)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// one writer keeps conditional updates serialized
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := s.initTables(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize table structure")
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables(ctx context.Context) error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS assets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			base_order_amount TEXT NOT NULL,
			safety_order_amount TEXT NOT NULL,
			max_safety_orders INTEGER NOT NULL DEFAULT 0,
			safety_order_deviation TEXT NOT NULL,
			take_profit_percent TEXT NOT NULL,
			ttp_enabled INTEGER NOT NULL DEFAULT 0,
			ttp_deviation_percent TEXT NOT NULL,
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			last_sell_price TEXT,
			min_order_quantity TEXT NOT NULL DEFAULT '0',
			quantity_step TEXT NOT NULL DEFAULT '0',
			price_step TEXT NOT NULL DEFAULT '0',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id INTEGER NOT NULL REFERENCES assets(id),
			status TEXT NOT NULL,
			quantity TEXT NOT NULL DEFAULT '0',
			average_purchase_price TEXT NOT NULL DEFAULT '0',
			safety_orders INTEGER NOT NULL DEFAULT 0,
			latest_order_id TEXT,
			latest_order_created_at TEXT,
			last_order_fill_price TEXT,
			highest_trailing_price TEXT,
			sell_price TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_asset ON cycles(asset_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_order ON cycles(latest_order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_status ON cycles(status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad timestamp %q", v)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

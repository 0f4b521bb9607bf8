// Package journal keeps a write-ahead record of every order the bot submits.
// An entry is written as pending before the order leaves the process and is
// marked done or failed once its outcome is known.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const (
	defaultDir          = "./wal/orders"
	entryKeyPrefix      = "order_"
	segmentThreshold    = 1000
	maxSegments         = 100
	dirPermissions      = 0o755
	orphanedEntryReason = "orphaned: no cycle references this order"
)

// Status of a journal entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Entry is one submitted order.
type Entry struct {
	OrderID    string           `json:"order_id"`
	CycleID    int64            `json:"cycle_id"`
	AssetID    int64            `json:"asset_id"`
	Symbol     string           `json:"symbol"`
	Side       domain.OrderSide `json:"side"`
	Type       domain.OrderType `json:"type"`
	Role       domain.OrderRole `json:"role"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice decimal.Decimal  `json:"limit_price"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Time       time.Time        `json:"time"`
}

type cycleFinder interface {
	GetCycleByOrderID(ctx context.Context, orderID string) (*domain.Cycle, error)
}

// Journal is safe for concurrent use.
type Journal struct {
	wal *gowal.Wal

	mu      sync.Mutex
	entries []*Entry
	index   map[string]*Entry
}

// Open opens (or creates) the journal in dir and replays its history.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultDir
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "orders_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init order journal WAL")
	}

	j := &Journal{
		wal:   wal,
		index: make(map[string]*Entry),
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, entryKeyPrefix) {
			continue
		}

		var e Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return nil, errors.Wrapf(err, "corrupted journal record %s", msg.Key)
		}
		j.remember(&e)
	}

	return j, nil
}

// Prepare records an order as pending. It must be called before the order is submitted.
func (j *Journal) Prepare(intent domain.OrderIntent, orderID string, cycleID, assetID int64, at time.Time) (*Entry, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	e := &Entry{
		OrderID:    orderID,
		CycleID:    cycleID,
		AssetID:    assetID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Type:       intent.Type,
		Role:       intent.Role,
		Quantity:   intent.Quantity,
		LimitPrice: intent.LimitPrice,
		Status:     StatusPending,
		Time:       at,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.index[orderID]; ok {
		return nil, errors.Errorf("order %s already journaled", orderID)
	}
	if err := j.persist(e); err != nil {
		return nil, err
	}
	j.remember(e)

	copied := *e
	return &copied, nil
}

// MarkDone records a successful outcome.
func (j *Journal) MarkDone(orderID string) error {
	return j.finish(orderID, StatusDone, nil)
}

// MarkFailed records an order that was never placed or ended without effect.
func (j *Journal) MarkFailed(orderID string, reason error) error {
	return j.finish(orderID, StatusFailed, reason)
}

func (j *Journal) finish(orderID string, status Status, reason error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	current, ok := j.index[orderID]
	if !ok {
		return nil
	}
	if current.Status == status {
		return nil
	}

	updated := *current
	updated.Status = status
	updated.Error = ""
	if reason != nil {
		updated.Error = reason.Error()
	}

	if err := j.persist(&updated); err != nil {
		return err
	}
	*current = updated

	return nil
}

// Get returns a copy of the entry for orderID.
func (j *Journal) Get(orderID string) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.index[orderID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Pending returns the entries still waiting for an outcome, oldest first.
func (j *Journal) Pending() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range j.entries {
		if e.Status == StatusPending {
			out = append(out, *e)
		}
	}
	return out
}

// FailOrphans marks pending entries that no cycle references anymore as failed.
func (j *Journal) FailOrphans(ctx context.Context, cycles cycleFinder) (int, error) {
	marked := 0
	for _, e := range j.Pending() {
		c, err := cycles.GetCycleByOrderID(ctx, e.OrderID)
		if err != nil {
			return marked, errors.Wrapf(err, "failed to look up cycle for order %s", e.OrderID)
		}
		if c != nil {
			continue
		}
		if err := j.MarkFailed(e.OrderID, errors.New(orphanedEntryReason)); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

func (j *Journal) Close() error {
	return j.wal.Close()
}

func (j *Journal) remember(e *Entry) {
	if existing, ok := j.index[e.OrderID]; ok {
		*existing = *e
		return
	}
	j.entries = append(j.entries, e)
	j.index[e.OrderID] = e
}

func (j *Journal) persist(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal journal entry")
	}
	key := fmt.Sprintf("%s%s", entryKeyPrefix, e.OrderID)
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, key, data)
}

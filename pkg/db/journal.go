package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OrderRecord is one submitted order as journaled.
type OrderRecord struct {
	ID         int64     `json:"id"`
	ClientID   string    `json:"clientId"`
	ExchangeID string    `json:"exchangeId"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Type       string    `json:"type"`
	Reason     string    `json:"reason"` // entry, signal_exit, stop, take_profit
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	FilledQty  float64   `json:"filledQty"`
	AvgPrice   float64   `json:"avgPrice"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DryRun     bool      `json:"dryRun"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CycleRecord summarizes one completed trading cycle.
type CycleRecord struct {
	Symbol     string
	Phase      string
	Decision   string
	Action     string
	ClosePrice float64
	StopPrice  float64
	PeakPrice  float64
	TierIndex  int
	Holdings   float64
	Sleep      time.Duration
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Journal appends order and cycle records.
type Journal struct {
	db *sql.DB
}

// NewJournal wraps an opened, migrated database.
func NewJournal(d *Database) *Journal {
	return &Journal{db: d.DB}
}

// RecordOrder appends an order record.
func (j *Journal) RecordOrder(ctx context.Context, r OrderRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders (client_id, exchange_id, symbol, side, type, reason, price, qty,
			filled_qty, avg_price, status, error, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ClientID, r.ExchangeID, r.Symbol, r.Side, r.Type, r.Reason, r.Price, r.Qty,
		r.FilledQty, r.AvgPrice, r.Status, r.Error, r.DryRun, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const insertCycle = `
	INSERT INTO cycles (symbol, phase, decision, action, close_price, stop_price, peak_price,
		tier_index, holdings, sleep_ms, error, started_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execCycle(ctx context.Context, e execer, r CycleRecord) error {
	_, err := e.ExecContext(ctx, insertCycle, r.Symbol, r.Phase, r.Decision, r.Action, r.ClosePrice,
		r.StopPrice, r.PeakPrice, r.TierIndex, r.Holdings, r.Sleep.Milliseconds(), r.Error,
		r.StartedAt.UTC(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// RecordCycle appends a cycle record.
func (j *Journal) RecordCycle(ctx context.Context, r CycleRecord) error {
	return execCycle(ctx, j.db, r)
}

// RecordCycles appends cycle records in one transaction.
func (j *Journal) RecordCycles(ctx context.Context, rs []CycleRecord) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, r := range rs {
		if err := execCycle(ctx, tx, r); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycles: %w", err)
	}
	return nil
}

// ListOrders returns the newest orders first. An empty symbol lists every pair.
func (j *Journal) ListOrders(ctx context.Context, symbol string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, client_id, COALESCE(exchange_id, ''), symbol, side, type, reason, price, qty,
			filled_qty, avg_price, status, COALESCE(error, ''), dry_run, created_at
		FROM orders
		WHERE (? = '' OR symbol = ?)
		ORDER BY id DESC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.ClientID, &r.ExchangeID, &r.Symbol, &r.Side, &r.Type, &r.Reason,
			&r.Price, &r.Qty, &r.FilledQty, &r.AvgPrice, &r.Status, &r.Error, &r.DryRun, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountCycles returns how many cycles were journaled for symbol.
func (j *Journal) CountCycles(ctx context.Context, symbol string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycles WHERE symbol = ?`, symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cycles: %w", err)
	}
	return n, nil
}

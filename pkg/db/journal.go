package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxListLimit caps the rows a single list query returns.
const MaxListLimit = 500

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("client order id already journaled")
)

// JournalEntry is one order the exchange accepted.
type JournalEntry struct {
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"order_id"`
	Action          string          `json:"action"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Type            string          `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	ReferencePrice  decimal.Decimal `json:"reference_price"`
	Notional        decimal.Decimal `json:"notional"`
	Leverage        int             `json:"leverage,omitempty"`
	ReduceOnly      bool            `json:"reduce_only"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Journal records accepted orders keyed by client order id, so a retried
// request can be answered from the journal instead of trading twice.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Insert stores e. A second insert for the same client order id returns
// ErrDuplicate and leaves the first row untouched.
func (j *Journal) Insert(ctx context.Context, e JournalEntry) error {
	if e.ClientOrderID == "" {
		return errors.New("journal: client order id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO orders (
			client_order_id, exchange_order_id, action, symbol, side, type,
			quantity, reference_price, notional, leverage, reduce_only, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ClientOrderID, e.ExchangeOrderID, e.Action, e.Symbol, e.Side, e.Type,
		e.Quantity.String(), e.ReferencePrice.String(), e.Notional.String(),
		e.Leverage, boolToInt(e.ReduceOnly), e.Status, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", e.ClientOrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert order %s: %w", e.ClientOrderID, err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetByClientID returns the entry for clientOrderID or ErrNotFound.
func (j *Journal) GetByClientID(ctx context.Context, clientOrderID string) (JournalEntry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+journalColumns+`
		FROM orders
		WHERE client_order_id = ?
	`, clientOrderID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JournalEntry{}, ErrNotFound
	}
	if err != nil {
		return JournalEntry{}, fmt.Errorf("get order %s: %w", clientOrderID, err)
	}
	return e, nil
}

// ListRecent returns up to limit entries, newest first. symbol is optional.
func (j *Journal) ListRecent(ctx context.Context, symbol string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, MaxListLimit)
	query := `SELECT ` + journalColumns + ` FROM orders`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByStatus returns up to limit entries in any of statuses, oldest first.
func (j *Journal) ListByStatus(ctx context.Context, statuses []string, limit int) ([]JournalEntry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	limit = min(limit, MaxListLimit)
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, limit)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")

	rows, err := j.db.QueryContext(ctx, `SELECT `+journalColumns+` FROM orders
		WHERE status IN (`+placeholders+`)
		ORDER BY created_at ASC, rowid ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders by status: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus records a later status for a journaled order.
func (j *Journal) UpdateStatus(ctx context.Context, clientOrderID, status string) error {
	res, err := j.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE client_order_id = ?`, status, clientOrderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", clientOrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const journalColumns = `client_order_id, exchange_order_id, action, symbol, side, type,
	quantity, reference_price, notional, leverage, reduce_only, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (JournalEntry, error) {
	var (
		e          JournalEntry
		reduceOnly int
		createdAt  int64
	)
	if err := s.Scan(
		&e.ClientOrderID, &e.ExchangeOrderID, &e.Action, &e.Symbol, &e.Side, &e.Type,
		&e.Quantity, &e.ReferencePrice, &e.Notional, &e.Leverage, &reduceOnly, &e.Status, &createdAt,
	); err != nil {
		return JournalEntry{}, err
	}
	e.ReduceOnly = reduceOnly == 1
	e.CreatedAt = time.UnixMilli(createdAt)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

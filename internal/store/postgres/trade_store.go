package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Rows are closed
// lifecycle trades; open trades live only in memory.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, entry_price, exit_price, qty, pnl, pnl_pct,
	entry_time, exit_time, exit_reason, entry_position, entry_volatility,
	checkpoint1_passed, checkpoint2_passed, transitions`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side string
	var transitions []byte
	if err := row.Scan(
		&t.ID, &t.Symbol, &side,
		&t.EntryPrice, &t.ExitPrice, &t.Qty, &t.PnL, &t.PnLPct,
		&t.EntryTime, &t.ExitTime, &t.ExitReason,
		&t.EntryPosition, &t.EntryVolatility,
		&t.Checkpoint1Passed, &t.Checkpoint2Passed, &transitions,
	); err != nil {
		return domain.TradeRecord{}, err
	}
	t.Side = domain.Side(side)
	if len(transitions) > 0 {
		if err := json.Unmarshal(transitions, &t.Transitions); err != nil {
			return domain.TradeRecord{}, fmt.Errorf("unmarshal transitions: %w", err)
		}
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert stores a closed trade. A duplicate ID returns
// domain.ErrAlreadyExists.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) error {
	transitions, err := json.Marshal(t.Transitions)
	if err != nil {
		return fmt.Errorf("postgres: marshal transitions %s: %w", t.ID, err)
	}

	const query = `
		INSERT INTO trades (
			id, symbol, side, entry_price, exit_price, qty, pnl, pnl_pct,
			entry_time, exit_time, exit_reason, entry_position, entry_volatility,
			checkpoint1_passed, checkpoint2_passed, transitions
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16
		)`

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Side),
		t.EntryPrice, t.ExitPrice, t.Qty, t.PnL, t.PnLPct,
		t.EntryTime, t.ExitTime, t.ExitReason,
		t.EntryPosition, t.EntryVolatility,
		t.Checkpoint1Passed, t.Checkpoint2Passed, transitions,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns one trade or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeRecord{}, domain.ErrNotFound
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListBySymbol returns trades for a symbol, most recently closed first.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := appendListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE symbol = $1`,
		[]any{symbol}, 2, "exit_time", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by symbol: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by symbol: %w", err)
	}
	return trades, nil
}

// ListClosedBefore returns up to limit trades that closed strictly before
// the cutoff, oldest first. limit <= 0 means no limit.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE exit_time < $1 ORDER BY exit_time ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteClosedBefore deletes trades that closed before the cutoff and
// returns how many were removed.
func (s *TradeStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE exit_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Rows are
// closed risk-gate positions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, qty, entry_price, exit_price,
	notional, pnl, opened_at, closed_at, close_reason`

func scanPositionRows(rows pgx.Rows) ([]domain.PositionRecord, error) {
	var positions []domain.PositionRecord
	for rows.Next() {
		var p domain.PositionRecord
		var side string
		if err := rows.Scan(
			&p.ID, &p.Symbol, &side,
			&p.Qty, &p.EntryPrice, &p.ExitPrice,
			&p.Notional, &p.PnL,
			&p.OpenedAt, &p.ClosedAt, &p.CloseReason,
		); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Insert stores a closed position. Re-inserting the same ID is a no-op.
func (s *PositionStore) Insert(ctx context.Context, p domain.PositionRecord) error {
	const query = `
		INSERT INTO positions (
			id, symbol, side, qty, entry_price, exit_price,
			notional, pnl, opened_at, closed_at, close_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side),
		p.Qty, p.EntryPrice, p.ExitPrice,
		p.Notional, p.PnL,
		p.OpenedAt, p.ClosedAt, p.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

// ListRecent returns closed positions, most recently closed first.
func (s *PositionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	query, args := appendListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE 1=1`,
		nil, 1, "closed_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// SumPnL totals realised P&L of positions closed at or after since.
func (s *PositionStore) SumPnL(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM positions WHERE closed_at >= $1`, since,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)

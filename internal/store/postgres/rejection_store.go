package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// RejectionStore implements domain.RejectionStore using PostgreSQL. It is
// the durable copy of the guardrail audit trail.
type RejectionStore struct {
	pool *pgxpool.Pool
}

// NewRejectionStore creates a new RejectionStore backed by the given pool.
func NewRejectionStore(pool *pgxpool.Pool) *RejectionStore {
	return &RejectionStore{pool: pool}
}

// Insert appends a rejection.
func (s *RejectionStore) Insert(ctx context.Context, r domain.RejectionRecord) error {
	const query = `
		INSERT INTO rejections (symbol, side, qty, stage, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query,
		r.Symbol, string(r.Side), r.Qty, r.Stage, r.Reason, r.At,
	); err != nil {
		return fmt.Errorf("postgres: insert rejection %s/%s: %w", r.Symbol, r.Stage, err)
	}
	return nil
}

// ListBySymbol returns rejections for a symbol, newest first.
func (s *RejectionStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.RejectionRecord, error) {
	query, args := appendListOpts(
		`SELECT id, symbol, side, qty, stage, reason, at FROM rejections WHERE symbol = $1`,
		[]any{symbol}, 2, "at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rejections: %w", err)
	}
	defer rows.Close()

	var out []domain.RejectionRecord
	for rows.Next() {
		var r domain.RejectionRecord
		var side string
		if err := rows.Scan(&r.ID, &r.Symbol, &side, &r.Qty, &r.Stage, &r.Reason, &r.At); err != nil {
			return nil, fmt.Errorf("postgres: scan rejection: %w", err)
		}
		r.Side = domain.Side(side)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rejections rows: %w", err)
	}
	return out, nil
}

// CountByStage groups rejections at or after since by pipeline stage.
func (s *RejectionStore) CountByStage(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, COUNT(*) FROM rejections WHERE at >= $1 GROUP BY stage`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: count rejections: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var stage string
		var n int64
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan rejection count: %w", err)
		}
		out[stage] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count rejections rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.RejectionStore = (*RejectionStore)(nil)

package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// PositionHistoryStore persists the append-only position snapshot trail.
type PositionHistoryStore struct {
	db *DB
}

func NewPositionHistoryStore(db *DB) *PositionHistoryStore { return &PositionHistoryStore{db: db} }

func (s *PositionHistoryStore) Append(ctx context.Context, h *domain.PositionHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_history (id, position_id, quantity, mark_price, unrealized_pnl, realized_pnl, margin, delta, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		h.ID, h.PositionID, h.Quantity, h.MarkPrice, h.UnrealizedPnL, h.RealizedPnL, h.Margin, h.Delta, h.RecordedAt)
	if err != nil {
		return fmt.Errorf("store: append position history: %w", err)
	}
	return nil
}

// ListByPosition returns the full snapshot trail for a position, oldest
// first, used by the metrics computation (win_rate, profit_factor,
// max_drawdown) that scans cumulative PnL.
func (s *PositionHistoryStore) ListByPosition(ctx context.Context, positionID string) ([]*domain.PositionHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, quantity, mark_price, unrealized_pnl, realized_pnl, margin, delta, recorded_at
		FROM position_history WHERE position_id = $1 ORDER BY recorded_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("store: list position history: %w", err)
	}
	defer rows.Close()

	var out []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var quantity, markPrice, unrealizedPnL, realizedPnL, margin, delta float64
		if err := rows.Scan(&h.ID, &h.PositionID, &quantity, &markPrice, &unrealizedPnL, &realizedPnL, &margin, &delta, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("store: scan position history: %w", err)
		}
		h.Quantity = decimal.NewFromFloat(quantity)
		h.MarkPrice = decimal.NewFromFloat(markPrice)
		h.UnrealizedPnL = decimal.NewFromFloat(unrealizedPnL)
		h.RealizedPnL = decimal.NewFromFloat(realizedPnL)
		h.Margin = decimal.NewFromFloat(margin)
		h.Delta = decimal.NewFromFloat(delta)
		out = append(out, &h)
	}
	return out, rows.Err()
}

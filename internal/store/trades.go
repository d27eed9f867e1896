package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// TradeStore persists domain.Trade rows.
type TradeStore struct {
	db *DB
}

func NewTradeStore(db *DB) *TradeStore { return &TradeStore{db: db} }

func (s *TradeStore) Create(ctx context.Context, t *domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, venue_trade_id, quantity, price, maker, fee, fee_asset, realized_pnl, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.OrderID, nullString(t.VenueTradeID), t.Quantity, t.Price, t.Maker, t.Fee, nullString(t.FeeAsset),
		nullDecimal(t.RealizedPnL), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("store: create trade: %w", err)
	}
	return nil
}

// ListByOrder returns all fills for an order, oldest first.
func (s *TradeStore) ListByOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, venue_trade_id, quantity, price, maker, fee, fee_asset, realized_pnl, executed_at
		FROM trades WHERE order_id = $1 ORDER BY executed_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: list trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var venueTradeID, feeAsset sql.NullString
		var realizedPnL sql.NullFloat64
		var quantity, price, fee float64

		if err := rows.Scan(&t.ID, &t.OrderID, &venueTradeID, &quantity, &price, &t.Maker, &fee, &feeAsset, &realizedPnL, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("store: scan trade: %w", err)
		}
		t.VenueTradeID = venueTradeID.String
		t.FeeAsset = feeAsset.String
		t.Quantity = decimal.NewFromFloat(quantity)
		t.Price = decimal.NewFromFloat(price)
		t.Fee = decimal.NewFromFloat(fee)
		if realizedPnL.Valid {
			d := decimal.NewFromFloat(realizedPnL.Float64)
			t.RealizedPnL = &d
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// PositionStore persists domain.Position rows.
type PositionStore struct {
	db *DB
}

func NewPositionStore(db *DB) *PositionStore { return &PositionStore{db: db} }

func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, binding_id, symbol, side, quantity, initial_quantity, entry_price, mark_price, liquidation_price,
			unrealized_pnl, realized_pnl, margin, margin_ratio, leverage, isolated,
			stop_loss_price, stop_loss_order_id, take_profit_price, take_profit_order_id,
			status, opened_at, updated_at, closed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		p.ID, p.BindingID, p.Symbol, string(p.Side), p.Quantity, p.InitialQuantity, p.EntryPrice, p.MarkPrice, nullDecimal(p.LiquidationPrice),
		p.UnrealizedPnL, p.RealizedPnL, p.Margin, p.MarginRatio, p.Leverage, p.Isolated,
		nullDecimal(p.StopLossPrice), nullString(p.StopLossOrderID), nullDecimal(p.TakeProfitPrice), nullString(p.TakeProfitOrderID),
		string(p.Status), p.OpenedAt, p.UpdatedAt, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("store: create position: %w", err)
	}
	return nil
}

// GetOpen returns the open (or closing) position for (bindingID, symbol),
// or ErrNotFound if there isn't one. Serves the (binding, symbol, status)
// index spec §6 requires.
func (s *PositionStore) GetOpen(ctx context.Context, bindingID, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, positionSelect+`
		WHERE binding_id = $1 AND symbol = $2 AND status IN ('OPEN','CLOSING')`, bindingID, symbol)
	return scanPosition(row)
}

func (s *PositionStore) ListOpenByBinding(ctx context.Context, bindingID string) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+`
		WHERE binding_id = $1 AND status IN ('OPEN','CLOSING')`, bindingID)
	if err != nil {
		return nil, fmt.Errorf("store: list open positions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			quantity=$1, entry_price=$2, mark_price=$3, liquidation_price=$4,
			unrealized_pnl=$5, realized_pnl=$6, margin=$7, margin_ratio=$8, leverage=$9,
			stop_loss_price=$10, take_profit_price=$11, status=$12, updated_at=now(), closed_at=$13
		WHERE id = $14`,
		p.Quantity, p.EntryPrice, p.MarkPrice, nullDecimal(p.LiquidationPrice),
		p.UnrealizedPnL, p.RealizedPnL, p.Margin, p.MarginRatio, p.Leverage,
		nullDecimal(p.StopLossPrice), nullDecimal(p.TakeProfitPrice), string(p.Status), p.ClosedAt, p.ID)
	if err != nil {
		return fmt.Errorf("store: update position: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const positionSelect = `
	SELECT id, binding_id, symbol, side, quantity, initial_quantity, entry_price, mark_price, liquidation_price,
		unrealized_pnl, realized_pnl, margin, margin_ratio, leverage, isolated,
		stop_loss_price, stop_loss_order_id, take_profit_price, take_profit_order_id,
		status, opened_at, updated_at, closed_at
	FROM positions`

func scanPosition(row *sql.Row) (*domain.Position, error) {
	p, err := scanPositionGeneric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPositionRows(rows *sql.Rows) (*domain.Position, error) { return scanPositionGeneric(rows) }

func scanPositionGeneric(s rowScanner) (*domain.Position, error) {
	var p domain.Position
	var side, status string
	var stopLossOrderID, takeProfitOrderID sql.NullString
	var liquidationPrice, stopLossPrice, takeProfitPrice sql.NullFloat64
	var quantity, initialQuantity, entryPrice, markPrice, unrealizedPnL, realizedPnL, margin, marginRatio, leverage float64

	err := s.Scan(
		&p.ID, &p.BindingID, &p.Symbol, &side, &quantity, &initialQuantity, &entryPrice, &markPrice, &liquidationPrice,
		&unrealizedPnL, &realizedPnL, &margin, &marginRatio, &leverage, &p.Isolated,
		&stopLossPrice, &stopLossOrderID, &takeProfitPrice, &takeProfitOrderID,
		&status, &p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan position: %w", err)
	}

	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	p.StopLossOrderID = stopLossOrderID.String
	p.TakeProfitOrderID = takeProfitOrderID.String
	p.Quantity = decimal.NewFromFloat(quantity)
	p.InitialQuantity = decimal.NewFromFloat(initialQuantity)
	p.EntryPrice = decimal.NewFromFloat(entryPrice)
	p.MarkPrice = decimal.NewFromFloat(markPrice)
	p.UnrealizedPnL = decimal.NewFromFloat(unrealizedPnL)
	p.RealizedPnL = decimal.NewFromFloat(realizedPnL)
	p.Margin = decimal.NewFromFloat(margin)
	p.MarginRatio = decimal.NewFromFloat(marginRatio)
	p.Leverage = decimal.NewFromFloat(leverage)
	if liquidationPrice.Valid {
		d := decimal.NewFromFloat(liquidationPrice.Float64)
		p.LiquidationPrice = &d
	}
	if stopLossPrice.Valid {
		d := decimal.NewFromFloat(stopLossPrice.Float64)
		p.StopLossPrice = &d
	}
	if takeProfitPrice.Valid {
		d := decimal.NewFromFloat(takeProfitPrice.Float64)
		p.TakeProfitPrice = &d
	}
	return &p, nil
}

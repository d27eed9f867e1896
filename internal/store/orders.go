package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// OrderStore persists domain.Order rows.
type OrderStore struct {
	db *DB
}

func NewOrderStore(db *DB) *OrderStore { return &OrderStore{db: db} }

func (s *OrderStore) Create(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, venue_order_id, idempotency_id, account_id, binding_id, symbol, side, kind,
			quantity, limit_price, stop_price, time_in_force, reduce_only, post_only, isolated,
			status, filled_qty, avg_fill_price, fee_accumulated, fee_asset, retry_count, last_error,
			placed_at, filled_at, canceled_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		o.ID, nullString(o.VenueOrderID), nullString(o.IdempotencyID), o.AccountID, o.BindingID, o.Symbol, string(o.Side), string(o.Kind),
		o.Quantity, nullDecimal(o.LimitPrice), nullDecimal(o.StopPrice), string(o.TimeInForce), o.ReduceOnly, o.PostOnly, o.Isolated,
		string(o.Status), o.FilledQty, o.AvgFillPrice, o.FeeAccumulated, nullString(o.FeeAsset), o.RetryCount, nullString(o.LastError),
		o.PlacedAt, o.FilledAt, o.CanceledAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, orderSelect+` WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *OrderStore) GetByVenueOrderID(ctx context.Context, venueOrderID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, orderSelect+` WHERE venue_order_id = $1`, venueOrderID)
	return scanOrder(row)
}

// ListByBindingAndStatus serves the (binding, status) index spec §6 calls
// out; an empty statuses slice applies no status filter.
func (s *OrderStore) ListByBindingAndStatus(ctx context.Context, bindingID string, statuses []domain.OrderStatus) ([]*domain.Order, error) {
	query := orderSelect + ` WHERE binding_id = $1`
	args := []any{bindingID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		args = append(args, pq.Array(strs))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			venue_order_id=$1, status=$2, filled_qty=$3, avg_fill_price=$4, fee_accumulated=$5,
			fee_asset=$6, retry_count=$7, last_error=$8, placed_at=$9, filled_at=$10, canceled_at=$11, updated_at=now()
		WHERE id = $12`,
		nullString(o.VenueOrderID), string(o.Status), o.FilledQty, o.AvgFillPrice, o.FeeAccumulated,
		nullString(o.FeeAsset), o.RetryCount, nullString(o.LastError), o.PlacedAt, o.FilledAt, o.CanceledAt, o.ID)
	if err != nil {
		return fmt.Errorf("store: update order: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const orderSelect = `
	SELECT id, venue_order_id, idempotency_id, account_id, binding_id, symbol, side, kind,
		quantity, limit_price, stop_price, time_in_force, reduce_only, post_only, isolated,
		status, filled_qty, avg_fill_price, fee_accumulated, fee_asset, retry_count, last_error,
		placed_at, filled_at, canceled_at, created_at, updated_at
	FROM orders`

func scanOrder(row *sql.Row) (*domain.Order, error) {
	o, err := scanOrderGeneric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func scanOrderRows(rows *sql.Rows) (*domain.Order, error) { return scanOrderGeneric(rows) }

func scanOrderGeneric(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	var venueOrderID, idempotencyID, feeAsset, lastError sql.NullString
	var side, kind, tif, status string
	var limitPrice, stopPrice sql.NullFloat64
	var quantity, filledQty, avgFillPrice, feeAccumulated float64

	err := s.Scan(
		&o.ID, &venueOrderID, &idempotencyID, &o.AccountID, &o.BindingID, &o.Symbol, &side, &kind,
		&quantity, &limitPrice, &stopPrice, &tif, &o.ReduceOnly, &o.PostOnly, &o.Isolated,
		&status, &filledQty, &avgFillPrice, &feeAccumulated, &feeAsset, &o.RetryCount, &lastError,
		&o.PlacedAt, &o.FilledAt, &o.CanceledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan order: %w", err)
	}

	o.VenueOrderID = venueOrderID.String
	o.IdempotencyID = idempotencyID.String
	o.FeeAsset = feeAsset.String
	o.LastError = lastError.String
	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.Quantity = decimal.NewFromFloat(quantity)
	o.FilledQty = decimal.NewFromFloat(filledQty)
	o.AvgFillPrice = decimal.NewFromFloat(avgFillPrice)
	o.FeeAccumulated = decimal.NewFromFloat(feeAccumulated)
	if limitPrice.Valid {
		d := decimal.NewFromFloat(limitPrice.Float64)
		o.LimitPrice = &d
	}
	if stopPrice.Valid {
		d := decimal.NewFromFloat(stopPrice.Float64)
		o.StopPrice = &d
	}
	return &o, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

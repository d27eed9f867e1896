package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// ErrNotFound is returned by a repository Get when no row matches.
var ErrNotFound = errors.New("store: not found")

// AccountStore persists domain.Account rows.
type AccountStore struct {
	db *DB
}

func NewAccountStore(db *DB) *AccountStore { return &AccountStore{db: db} }

func (s *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, email, active, password_hash, max_position_size_usd, max_leverage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.DisplayName, a.Email, a.Active, a.PasswordHash, a.MaxPositionSizeUSD, a.MaxLeverage, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create account: %w", err)
	}
	return nil
}

func (s *AccountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, active, password_hash, max_position_size_usd, max_leverage, created_at, updated_at
		FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, active, password_hash, max_position_size_usd, max_leverage, created_at, updated_at
		FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var maxPos, maxLev float64
	err := row.Scan(&a.ID, &a.DisplayName, &a.Email, &a.Active, &a.PasswordHash, &maxPos, &maxLev, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan account: %w", err)
	}
	a.MaxPositionSizeUSD = decimal.NewFromFloat(maxPos)
	a.MaxLeverage = decimal.NewFromFloat(maxLev)
	return &a, nil
}

func (s *AccountStore) UpdateRiskDefaults(ctx context.Context, id string, maxPositionSizeUSD, maxLeverage decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET max_position_size_usd = $1, max_leverage = $2, updated_at = now() WHERE id = $3`,
		maxPositionSizeUSD, maxLeverage, id)
	if err != nil {
		return fmt.Errorf("store: update account risk defaults: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

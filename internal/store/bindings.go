package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// BindingStore persists domain.VenueBinding rows.
type BindingStore struct {
	db *DB
}

func NewBindingStore(db *DB) *BindingStore { return &BindingStore{db: db} }

func (s *BindingStore) Create(ctx context.Context, b *domain.VenueBinding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO venue_bindings (
			id, account_id, venue, name, testnet, active,
			api_key_enc, api_secret_enc, private_key_enc, wallet_address, vault_index, requests_per_minute,
			balance_total, balance_available, balance_margin, balance_unrealized_pnl, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		b.ID, b.AccountID, string(b.Venue), b.Name, b.Testnet, b.Active,
		b.APIKeyEnc, b.APISecretEnc, b.PrivateKeyEnc, nullString(b.WalletAddress), b.VaultIndex, b.RequestsPerMinute,
		b.BalanceTotal, b.BalanceAvailable, b.BalanceMargin, b.BalanceUnrealizedPnL, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create binding: %w", err)
	}
	return nil
}

func (s *BindingStore) Get(ctx context.Context, id string) (*domain.VenueBinding, error) {
	row := s.db.QueryRowContext(ctx, bindingSelect+` WHERE id = $1`, id)
	return scanBinding(row)
}

func (s *BindingStore) ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.VenueBinding, error) {
	rows, err := s.db.QueryContext(ctx, bindingSelect+` WHERE account_id = $1 AND active = true`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: list bindings: %w", err)
	}
	defer rows.Close()

	var out []*domain.VenueBinding
	for rows.Next() {
		b, err := scanBindingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BindingStore) UpdateBalances(ctx context.Context, id string, total, available, margin, unrealizedPnL decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE venue_bindings SET balance_total=$1, balance_available=$2, balance_margin=$3, balance_unrealized_pnl=$4, updated_at=now()
		WHERE id = $5`, total, available, margin, unrealizedPnL, id)
	if err != nil {
		return fmt.Errorf("store: update binding balances: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *BindingStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE venue_bindings SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: deactivate binding: %w", err)
	}
	return nil
}

const bindingSelect = `
	SELECT id, account_id, venue, name, testnet, active,
		api_key_enc, api_secret_enc, private_key_enc, wallet_address, vault_index, requests_per_minute,
		balance_total, balance_available, balance_margin, balance_unrealized_pnl, created_at, updated_at
	FROM venue_bindings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row *sql.Row) (*domain.VenueBinding, error) {
	b, err := scanBindingGeneric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func scanBindingRows(rows *sql.Rows) (*domain.VenueBinding, error) {
	return scanBindingGeneric(rows)
}

func scanBindingGeneric(s rowScanner) (*domain.VenueBinding, error) {
	var b domain.VenueBinding
	var venueTag string
	var walletAddress sql.NullString
	var vaultIndex sql.NullInt64
	var total, available, margin, unrealized float64

	err := s.Scan(
		&b.ID, &b.AccountID, &venueTag, &b.Name, &b.Testnet, &b.Active,
		&b.APIKeyEnc, &b.APISecretEnc, &b.PrivateKeyEnc, &walletAddress, &vaultIndex, &b.RequestsPerMinute,
		&total, &available, &margin, &unrealized, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan binding: %w", err)
	}
	b.Venue = domain.VenueTag(venueTag)
	b.WalletAddress = walletAddress.String
	if vaultIndex.Valid {
		v := int(vaultIndex.Int64)
		b.VaultIndex = &v
	}
	b.BalanceTotal = decimal.NewFromFloat(total)
	b.BalanceAvailable = decimal.NewFromFloat(available)
	b.BalanceMargin = decimal.NewFromFloat(margin)
	b.BalanceUnrealizedPnL = decimal.NewFromFloat(unrealized)
	return &b, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

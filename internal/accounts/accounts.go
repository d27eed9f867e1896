// Package accounts implements registration, authentication, and
// per-account risk-default CRUD for the gateway's principal entity:
// bcrypt password hashing and compare, plus a JWT claims struct embedding
// jwt.RegisteredClaims, signed and parsed with a single HS256 secret.
// MFA, RBAC, device fingerprinting, and RSA key-pair/session-blacklist
// machinery are left out: this gateway's HTTP/session layer is external,
// so only the principal and its credential lifecycle live here.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/gatewayerrors"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
)

// ErrEmailTaken is returned by Register when the email is already in use.
var ErrEmailTaken = errors.New("accounts: email already registered")

// Claims is the JWT payload issued on successful authentication.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// Service implements account registration, authentication, and risk
// default management.
type Service struct {
	accounts   *store.AccountStore
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
}

// New constructs a Service. jwtSecret is the HS256 signing key; tokenTTL
// defaults to 24h and bcryptCost to bcrypt.DefaultCost when zero.
func New(accounts *store.AccountStore, jwtSecret []byte, tokenTTL time.Duration, bcryptCost int) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{accounts: accounts, jwtSecret: jwtSecret, tokenTTL: tokenTTL, bcryptCost: bcryptCost}
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	DisplayName string
	Email       string
	Password    string
}

// Register creates a new account with a bcrypt password hash and the
// gateway's default risk limits (spec §3 Account.risk defaults — §4.5's
// own defaults apply until the account owner overrides them).
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.Account, error) {
	if _, err := s.accounts.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("accounts: check existing email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("accounts: hash password: %w", err)
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:                 uuid.NewString(),
		DisplayName:        req.DisplayName,
		Email:              req.Email,
		Active:             true,
		PasswordHash:       string(hash),
		MaxPositionSizeUSD: decimal.NewFromInt(100000),
		MaxLeverage:        decimal.NewFromInt(20),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("accounts: create: %w", err)
	}
	return account, nil
}

// Authenticate verifies email/password and, on success, issues a bearer
// token scoped to the account id.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, *domain.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err == store.ErrNotFound {
		return "", nil, gatewayerrors.NewAuthenticationFailed("invalid email or password")
	}
	if err != nil {
		return "", nil, fmt.Errorf("accounts: load account: %w", err)
	}
	if !account.Active {
		return "", nil, gatewayerrors.NewAuthenticationFailed("account is deactivated")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", nil, gatewayerrors.NewAuthenticationFailed("invalid email or password")
	}

	token, err := s.issueToken(account)
	if err != nil {
		return "", nil, fmt.Errorf("accounts: issue token: %w", err)
	}
	return token, account, nil
}

func (s *Service) issueToken(account *domain.Account) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		AccountID: account.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken validates a bearer token and returns the account id it was
// issued for.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("accounts: unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", gatewayerrors.NewAuthenticationFailed("invalid or expired token")
	}
	return claims.AccountID, nil
}

// UpdateRiskDefaults lets an account owner adjust their own risk
// defaults (spec §3: "mutated only by the account owner or admin").
func (s *Service) UpdateRiskDefaults(ctx context.Context, accountID string, maxPositionSizeUSD, maxLeverage decimal.Decimal) error {
	return s.accounts.UpdateRiskDefaults(ctx, accountID, maxPositionSizeUSD, maxLeverage)
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.accounts.Get(ctx, accountID)
}

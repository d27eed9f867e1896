package accounts

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := observability.NewLogger("accounts-test", "error", "text")
	db := store.WrapDB(sqlDB, logger)
	accounts := store.NewAccountStore(db)
	svc := New(accounts, []byte("test-secret-key-not-for-prod"), time.Hour, bcrypt.MinCost)
	return svc, mockDB
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, mockDB := newTestService(t)
	now := time.Now().UTC()
	mockDB.ExpectQuery("SELECT (.+) FROM accounts WHERE email = \\$1").WithArgs("trader@example.com").WillReturnRows(
		sqlmock.NewRows([]string{"id", "display_name", "email", "active", "password_hash", "max_position_size_usd", "max_leverage", "created_at", "updated_at"}).
			AddRow("acct-1", "trader", "trader@example.com", true, "hash", 100000.0, 20.0, now, now))

	_, err := svc.Register(context.Background(), RegisterRequest{DisplayName: "trader", Email: "trader@example.com", Password: "hunter22"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterCreatesAccountWithDefaults(t *testing.T) {
	svc, mockDB := newTestService(t)
	mockDB.ExpectQuery("SELECT (.+) FROM accounts WHERE email = \\$1").WithArgs("new@example.com").WillReturnError(store.ErrNotFound)
	mockDB.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(1, 1))

	account, err := svc.Register(context.Background(), RegisterRequest{DisplayName: "new trader", Email: "new@example.com", Password: "hunter22"})
	require.NoError(t, err)
	require.True(t, account.Active)
	require.NotEmpty(t, account.PasswordHash)
	require.NotEqual(t, "hunter22", account.PasswordHash)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	svc, mockDB := newTestService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	mockDB.ExpectQuery("SELECT (.+) FROM accounts WHERE email = \\$1").WithArgs("trader@example.com").WillReturnRows(
		sqlmock.NewRows([]string{"id", "display_name", "email", "active", "password_hash", "max_position_size_usd", "max_leverage", "created_at", "updated_at"}).
			AddRow("acct-1", "trader", "trader@example.com", true, string(hash), 100000.0, 20.0, now, now))

	_, _, err = svc.Authenticate(context.Background(), "trader@example.com", "wrong-password")
	require.Error(t, err)
}

func TestAuthenticateIssuesVerifiableToken(t *testing.T) {
	svc, mockDB := newTestService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	mockDB.ExpectQuery("SELECT (.+) FROM accounts WHERE email = \\$1").WithArgs("trader@example.com").WillReturnRows(
		sqlmock.NewRows([]string{"id", "display_name", "email", "active", "password_hash", "max_position_size_usd", "max_leverage", "created_at", "updated_at"}).
			AddRow("acct-1", "trader", "trader@example.com", true, string(hash), 100000.0, 20.0, now, now))

	token, account, err := svc.Authenticate(context.Background(), "trader@example.com", "correct-password")
	require.NoError(t, err)
	require.Equal(t, "acct-1", account.ID)

	accountID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "acct-1", accountID)
}

func TestAuthenticateRejectsDeactivatedAccount(t *testing.T) {
	svc, mockDB := newTestService(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	now := time.Now().UTC()
	mockDB.ExpectQuery("SELECT (.+) FROM accounts WHERE email = \\$1").WithArgs("trader@example.com").WillReturnRows(
		sqlmock.NewRows([]string{"id", "display_name", "email", "active", "password_hash", "max_position_size_usd", "max_leverage", "created_at", "updated_at"}).
			AddRow("acct-1", "trader", "trader@example.com", false, string(hash), 100000.0, 20.0, now, now))

	_, _, err := svc.Authenticate(context.Background(), "trader@example.com", "correct-password")
	require.Error(t, err)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.VerifyToken("not-a-real-token")
	require.Error(t, err)
}

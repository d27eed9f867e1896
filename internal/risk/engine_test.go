package risk

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/executor"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/position"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := observability.NewLogger("risk-test", "error", "text")
	db := store.WrapDB(sqlDB, logger)
	accounts := store.NewAccountStore(db)
	bindings := store.NewBindingStore(db)
	positions := store.NewPositionStore(db)
	tracker := position.New(positions, store.NewPositionHistoryStore(db), logger, observability.NewMetrics())

	engine := New(accounts, bindings, positions, tracker, nil, nil, logger, observability.NewMetrics(), time.Second)
	return engine, mockDB
}

func accountRow(mockDB sqlmock.Sqlmock, id string, maxPosUSD, maxLev float64) {
	now := time.Now().UTC()
	mockDB.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1").WithArgs(id).WillReturnRows(
		sqlmock.NewRows([]string{"id", "display_name", "email", "active", "password_hash", "max_position_size_usd", "max_leverage", "created_at", "updated_at"}).
			AddRow(id, "trader", "trader@example.com", true, "hash", maxPosUSD, maxLev, now, now))
}

func TestCheckFlagsLeverageAndSizeViolations(t *testing.T) {
	engine, mockDB := newTestEngine(t)
	accountRow(mockDB, "acct-1", 100000, 5)
	mockDB.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(sqlmock.NewRows(nil))

	binding := &domain.VenueBinding{ID: "binding-1", AccountID: "acct-1", BalanceAvailable: decimal.NewFromInt(1000)}
	price := decimal.NewFromInt(50000)
	violations := engine.Check(context.Background(), binding, executor.PlaceOrderRequest{
		Symbol: "BTC-PERP", Side: domain.SideBuy, Kind: domain.OrderKindLimit,
		Quantity: decimal.NewFromInt(10), LimitPrice: &price, Leverage: decimal.NewFromInt(10),
	})

	require.Contains(t, violations, "position_size_exceeds_cap")
	require.Contains(t, violations, "leverage_exceeds_max")
}

func TestCheckReturnsNoViolationsWithinLimits(t *testing.T) {
	engine, mockDB := newTestEngine(t)
	accountRow(mockDB, "acct-1", 100000, 20)
	mockDB.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(sqlmock.NewRows(nil))

	binding := &domain.VenueBinding{ID: "binding-1", AccountID: "acct-1", BalanceAvailable: decimal.NewFromInt(100000)}
	price := decimal.NewFromInt(100)
	violations := engine.Check(context.Background(), binding, executor.PlaceOrderRequest{
		Symbol: "SOL-PERP", Side: domain.SideBuy, Kind: domain.OrderKindLimit,
		Quantity: decimal.NewFromInt(1), LimitPrice: &price, Leverage: decimal.NewFromInt(1),
	})
	require.Empty(t, violations)
}

func TestRecentOrderCountCountsRecordedAttempts(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetLimits("acct-1", Limits{MaxOrdersPerMinute: 2, MaxLeverage: decimal.NewFromInt(100), MaxExposureUSD: decimal.NewFromInt(1000000), MaxPositionSizeUSD: decimal.NewFromInt(1000000), MaxDailyLossUSD: decimal.NewFromInt(1000000)})

	engine.recordOrderAttempt("acct-1")
	engine.recordOrderAttempt("acct-1")
	require.Equal(t, 2, engine.recentOrderCount("acct-1"))
}

func TestRecordRealizedPnLAccumulatesDailyTotal(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.RecordRealizedPnL("acct-1", decimal.NewFromInt(-5000))
	require.True(t, engine.dailyRealizedPnL("acct-1").Equal(decimal.NewFromInt(-5000)))
}

func TestClassifyRiskLevel(t *testing.T) {
	require.Equal(t, RiskLevelLow, classifyRiskLevel(Metrics{}))
	require.Equal(t, RiskLevelCritical, classifyRiskLevel(Metrics{MarginUsagePct: decimal.NewFromFloat(0.95)}))
	require.Equal(t, RiskLevelHigh, classifyRiskLevel(Metrics{LeverageRatio: decimal.NewFromInt(12)}))
	require.Equal(t, RiskLevelMedium, classifyRiskLevel(Metrics{MaxDrawdownPct: decimal.NewFromFloat(0.15)}))
}

package position

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := observability.NewLogger("position-test", "error", "text")
	db := store.WrapDB(sqlDB, logger)
	tracker := New(store.NewPositionStore(db), store.NewPositionHistoryStore(db), logger, observability.NewMetrics())
	return tracker, mockDB
}

func TestApplyUpdateOpensNewPosition(t *testing.T) {
	tracker, mockDB := newTestTracker(t)

	mockDB.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(sqlmock.NewRows(nil))
	mockDB.ExpectExec("INSERT INTO positions").WillReturnResult(sqlmock.NewResult(1, 1))
	mockDB.ExpectExec("INSERT INTO position_history").WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := tracker.ApplyUpdate(context.Background(), "binding-1", Update{
		Symbol: "BTC-PERP", QuantityDelta: decimal.NewFromFloat(0.1),
		MarkPrice: decimal.NewFromInt(50000),
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, domain.PositionSideLong, p.Side)
	require.True(t, p.Quantity.Equal(decimal.NewFromFloat(0.1)))
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestApplyUpdateClosesOnZeroCrossing(t *testing.T) {
	tracker, mockDB := newTestTracker(t)

	openedAt := time.Now().UTC()
	existingRows := sqlmock.NewRows([]string{
		"id", "binding_id", "symbol", "side", "quantity", "initial_quantity", "entry_price", "mark_price", "liquidation_price",
		"unrealized_pnl", "realized_pnl", "margin", "margin_ratio", "leverage", "isolated",
		"stop_loss_price", "stop_loss_order_id", "take_profit_price", "take_profit_order_id",
		"status", "opened_at", "updated_at", "closed_at",
	}).AddRow(
		"pos-1", "binding-1", "BTC-PERP", "LONG", 0.1, 0.1, 50000.0, 50000.0, nil,
		0.0, 0.0, 0.0, 0.0, 1.0, false,
		nil, nil, nil, nil,
		"OPEN", openedAt, openedAt, nil,
	)
	mockDB.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(existingRows)
	mockDB.ExpectExec("UPDATE positions SET").WillReturnResult(sqlmock.NewResult(1, 1))
	mockDB.ExpectExec("INSERT INTO position_history").WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := tracker.ApplyUpdate(context.Background(), "binding-1", Update{
		Symbol: "BTC-PERP", QuantityDelta: decimal.NewFromFloat(-0.1), RealizedPnL: decimal.NewFromInt(50),
		MarkPrice: decimal.NewFromInt(50500),
	})
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusClosed, p.Status)
	require.True(t, p.Quantity.IsZero())
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestCheckLiquidationRiskTagsHighAndMedium(t *testing.T) {
	tracker, mockDB := newTestTracker(t)

	liqHigh := decimal.NewFromInt(49000) // distance 2% from mark 50000 -> HIGH
	liqMedium := decimal.NewFromInt(47000) // distance 6% from mark 50000 -> MEDIUM (>5%, <10%)
	liqSafe := decimal.NewFromInt(30000) // distance 40% -> excluded

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "binding_id", "symbol", "side", "quantity", "initial_quantity", "entry_price", "mark_price", "liquidation_price",
		"unrealized_pnl", "realized_pnl", "margin", "margin_ratio", "leverage", "isolated",
		"stop_loss_price", "stop_loss_order_id", "take_profit_price", "take_profit_order_id",
		"status", "opened_at", "updated_at", "closed_at",
	}).
		AddRow("pos-high", "binding-1", "BTC-PERP", "LONG", 1.0, 1.0, 48000.0, 50000.0, liqHighFloat(liqHigh),
			0.0, 0.0, 0.0, 0.0, 5.0, false, nil, nil, nil, nil, "OPEN", now, now, nil).
		AddRow("pos-medium", "binding-1", "ETH-PERP", "LONG", 1.0, 1.0, 3000.0, 50000.0, liqHighFloat(liqMedium),
			0.0, 0.0, 0.0, 0.0, 5.0, false, nil, nil, nil, nil, "OPEN", now, now, nil).
		AddRow("pos-safe", "binding-1", "SOL-PERP", "LONG", 1.0, 1.0, 100.0, 50000.0, liqHighFloat(liqSafe),
			0.0, 0.0, 0.0, 0.0, 5.0, false, nil, nil, nil, nil, "OPEN", now, now, nil)
	mockDB.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(rows)

	warnings, err := tracker.CheckLiquidationRisk(context.Background(), "binding-1")
	require.NoError(t, err)
	require.Len(t, warnings, 2)

	bySymbol := map[string]LiquidationWarning{}
	for _, w := range warnings {
		bySymbol[w.Position.Symbol] = w
	}
	require.Equal(t, "HIGH", bySymbol["BTC-PERP"].Severity)
	require.Equal(t, "MEDIUM", bySymbol["ETH-PERP"].Severity)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func liqHighFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func TestClosePositionReturnsNotFoundWhenNoneOpen(t *testing.T) {
	tracker, mockDB := newTestTracker(t)
	mockDB.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(sqlmock.NewRows(nil))

	_, err := tracker.ClosePosition(context.Background(), "binding-1", "BTC-PERP", decimal.NewFromInt(51000))
	require.Error(t, err)
}

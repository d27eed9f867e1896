package executor

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/gatewayerrors"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/security"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/mock"
)

type harness struct {
	executor *Executor
	mockDB   sqlmock.Sqlmock
	binding  *domain.VenueBinding
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sqlDB, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := observability.NewLogger("executor-test", "error", "text")
	db := store.WrapDB(sqlDB, logger)

	vault, err := security.NewVault(make([]byte, 32))
	require.NoError(t, err)

	registry := venue.NewRegistry()
	registry.Register(domain.VenueMock, func() venue.Adapter { return mock.New(1) })

	binding := &domain.VenueBinding{
		ID:                "binding-1",
		AccountID:         "account-1",
		Venue:             domain.VenueMock,
		Name:              "primary",
		Active:            true,
		RequestsPerMinute: 600,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}

	return &harness{
		executor: New(registry, vault, store.NewOrderStore(db), store.NewTradeStore(db), store.NewBindingStore(db), nil, nil, logger, observability.NewMetrics()),
		mockDB:   mockDB,
		binding:  binding,
	}
}

func (h *harness) expectGetBinding(t *testing.T) {
	t.Helper()
	rows := sqlmock.NewRows([]string{
		"id", "account_id", "venue", "name", "testnet", "active",
		"api_key_enc", "api_secret_enc", "private_key_enc", "wallet_address", "vault_index", "requests_per_minute",
		"balance_total", "balance_available", "balance_margin", "balance_unrealized_pnl", "created_at", "updated_at",
	}).AddRow(
		h.binding.ID, h.binding.AccountID, string(h.binding.Venue), h.binding.Name, h.binding.Testnet, h.binding.Active,
		[]byte{}, []byte{}, []byte{}, nil, nil, h.binding.RequestsPerMinute,
		0.0, h.binding.BalanceAvailable.InexactFloat64(), 0.0, 0.0, h.binding.CreatedAt, h.binding.UpdatedAt,
	)
	h.mockDB.ExpectQuery("SELECT (.+) FROM venue_bindings WHERE id = \\$1").WithArgs(h.binding.ID).WillReturnRows(rows)
}

func TestPlaceOrderHappyPath(t *testing.T) {
	h := newHarness(t)
	h.expectGetBinding(t)
	h.mockDB.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	h.mockDB.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(1, 1))

	order, err := h.executor.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID:   h.binding.AccountID,
		BindingID:   h.binding.ID,
		Symbol:      "BTC-PERP",
		Side:        domain.SideBuy,
		Kind:        domain.OrderKindMarket,
		Quantity:    decimal.NewFromInt(2),
		TimeInForce: domain.TIFGTC,
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.VenueOrderID)
	require.Equal(t, domain.OrderStatusPartiallyFilled, order.Status)
	require.NoError(t, h.mockDB.ExpectationsWereMet())
}

func TestPlaceOrderRejectsNonPositiveQuantity(t *testing.T) {
	h := newHarness(t)
	h.expectGetBinding(t)

	_, err := h.executor.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID: h.binding.AccountID,
		BindingID: h.binding.ID,
		Symbol:    "BTC-PERP",
		Side:      domain.SideBuy,
		Kind:      domain.OrderKindMarket,
		Quantity:  decimal.Zero,
	})
	// PlaceOrder loads the binding first, then validatePlaceOrderRequest
	// rejects the zero quantity before any order row is written.
	require.Error(t, err)
}

func TestPlaceOrderRejectsLimitWithoutPrice(t *testing.T) {
	h := newHarness(t)
	h.expectGetBinding(t)

	_, err := h.executor.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID: h.binding.AccountID,
		BindingID: h.binding.ID,
		Symbol:    "BTC-PERP",
		Side:      domain.SideBuy,
		Kind:      domain.OrderKindLimit,
		Quantity:  decimal.NewFromInt(1),
	})
	require.Error(t, err)
}

func TestPlaceOrderRejectsInactiveBinding(t *testing.T) {
	h := newHarness(t)
	h.binding.Active = false
	h.expectGetBinding(t)

	_, err := h.executor.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID: h.binding.AccountID,
		BindingID: h.binding.ID,
		Symbol:    "BTC-PERP",
		Side:      domain.SideBuy,
		Kind:      domain.OrderKindMarket,
		Quantity:  decimal.NewFromInt(1),
	})
	require.Error(t, err)
}

func TestPlaceOrderRejectsInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.expectGetBinding(t) // binding_available defaults to 0.0 in expectGetBinding

	price := decimal.NewFromInt(50000)
	_, err := h.executor.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID:  h.binding.AccountID,
		BindingID:  h.binding.ID,
		Symbol:     "BTC-PERP",
		Side:       domain.SideBuy,
		Kind:       domain.OrderKindLimit,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: &price,
	})
	require.Error(t, err)
	var gwErr *gatewayerrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, gatewayerrors.KindInsufficientBalance, gwErr.Kind)
}

func TestSyncOrdersResolvesStaleOrderViaGetOrder(t *testing.T) {
	h := newHarness(t)
	h.binding.BalanceAvailable = decimal.NewFromInt(1000) // covers the 1 x 100 limit order's margin
	h.expectGetBinding(t)
	h.mockDB.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	h.mockDB.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(1, 1))

	price := decimal.NewFromInt(100)
	order, err := h.executor.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID: h.binding.AccountID, BindingID: h.binding.ID, Symbol: "SOL-PERP",
		Side: domain.SideBuy, Kind: domain.OrderKindLimit, Quantity: decimal.NewFromInt(1), LimitPrice: &price,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusNew, order.Status)

	h.expectGetBinding(t)
	rows := sqlmock.NewRows([]string{
		"id", "venue_order_id", "idempotency_id", "account_id", "binding_id", "symbol", "side", "kind",
		"quantity", "limit_price", "stop_price", "time_in_force", "reduce_only", "post_only", "isolated",
		"status", "filled_qty", "avg_fill_price", "fee_accumulated", "fee_asset", "retry_count", "last_error",
		"placed_at", "filled_at", "canceled_at", "created_at", "updated_at",
	}).AddRow(
		order.ID, order.VenueOrderID, order.IdempotencyID, order.AccountID, order.BindingID, order.Symbol, string(order.Side), string(order.Kind),
		order.Quantity.InexactFloat64(), order.LimitPrice.InexactFloat64(), nil, string(order.TimeInForce), order.ReduceOnly, order.PostOnly, order.Isolated,
		string(order.Status), order.FilledQty.InexactFloat64(), order.AvgFillPrice.InexactFloat64(), order.FeeAccumulated.InexactFloat64(), nil, order.RetryCount, nil,
		order.PlacedAt, nil, nil, order.CreatedAt, order.UpdatedAt,
	)
	h.mockDB.ExpectQuery("SELECT (.+) FROM orders WHERE binding_id = \\$1").
		WithArgs(h.binding.ID, sqlmock.AnyArg()).WillReturnRows(rows)
	h.mockDB.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(1, 1))

	// The mock venue's open-orders snapshot no longer includes this order
	// (e.g. it filled between the PlaceOrder call and this sweep); SyncOrders
	// must consult GetOrder rather than assume it was canceled.
	adapter, ok := h.executor.adapterCache.get(h.binding.ID)
	require.True(t, ok)
	mockAdapter := adapter.(*mock.Adapter)
	_, err = mockAdapter.CancelOrder(context.Background(), order.VenueOrderID)
	require.NoError(t, err)

	err = h.executor.SyncOrders(context.Background(), h.binding.ID)
	require.NoError(t, err)
}

func TestAdapterCacheReusesConnection(t *testing.T) {
	h := newHarness(t)
	h.expectGetBinding(t)
	h.mockDB.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	h.mockDB.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(1, 1))
	h.expectGetBinding(t) // second PlaceOrder call looks up the binding again
	h.mockDB.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	h.mockDB.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(1, 1))

	req := PlaceOrderRequest{
		AccountID: h.binding.AccountID, BindingID: h.binding.ID, Symbol: "BTC-PERP",
		Side: domain.SideBuy, Kind: domain.OrderKindMarket, Quantity: decimal.NewFromInt(1),
	}
	_, err := h.executor.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	_, ok := h.executor.adapterCache.get(h.binding.ID)
	require.True(t, ok)

	_, err = h.executor.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
}

package mock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

func connected(t *testing.T) *Adapter {
	t.Helper()
	a := New(1)
	require.NoError(t, a.Connect(context.Background(), venue.Credentials{}))
	return a
}

func TestPlaceMarketOrderPartiallyFills(t *testing.T) {
	a := connected(t)
	ack, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol:   "BTC-PERP",
		Side:     domain.SideBuy,
		Kind:     domain.OrderKindMarket,
		Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPartiallyFilled, ack.Status)
	require.True(t, ack.FilledQty.Equal(decimal.NewFromInt(1)))
}

func TestPlaceLimitOrderRestsNew(t *testing.T) {
	a := connected(t)
	price := decimal.NewFromInt(49000)
	ack, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTC-PERP", Side: domain.SideBuy, Kind: domain.OrderKindLimit,
		Quantity: decimal.NewFromInt(1), LimitPrice: &price,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusNew, ack.Status)
	require.True(t, ack.FilledQty.IsZero())
}

func TestCancelOrder(t *testing.T) {
	a := connected(t)
	price := decimal.NewFromInt(49000)
	ack, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTC-PERP", Side: domain.SideBuy, Kind: domain.OrderKindLimit,
		Quantity: decimal.NewFromInt(1), LimitPrice: &price,
	})
	require.NoError(t, err)

	res, err := a.CancelOrder(context.Background(), ack.VenueOrderID)
	require.NoError(t, err)
	require.True(t, res.Canceled)

	res2, err := a.CancelOrder(context.Background(), ack.VenueOrderID)
	require.NoError(t, err)
	require.True(t, res2.AlreadyTerminal)
}

func TestModifyOrderViaCancelThenReplace(t *testing.T) {
	a := connected(t)
	price := decimal.NewFromInt(49000)
	ack, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTC-PERP", Side: domain.SideBuy, Kind: domain.OrderKindLimit,
		Quantity: decimal.NewFromInt(1), LimitPrice: &price,
	})
	require.NoError(t, err)

	newQty := decimal.NewFromInt(2)
	newAck, err := a.ModifyOrder(context.Background(), ack.VenueOrderID, venue.ModifyChanges{NewQuantity: &newQty})
	require.NoError(t, err)
	require.NotEqual(t, ack.VenueOrderID, newAck.VenueOrderID)

	orders, err := a.GetOpenOrders(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, newAck.VenueOrderID, orders[0].VenueOrderID)
}

func TestGetPositionsSeedsDeterministically(t *testing.T) {
	a := connected(t)
	positions, err := a.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 2)
}

func TestNotAuthenticatedRejectsPlaceOrder(t *testing.T) {
	a := New(1)
	_, err := a.PlaceOrder(context.Background(), venue.OrderRequest{Symbol: "BTC-PERP"})
	require.Error(t, err)
}

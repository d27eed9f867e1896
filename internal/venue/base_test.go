package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

func TestBaseSymbolMapping(t *testing.T) {
	b := NewBase(domain.VenueEdgeX, 60, map[string]string{"BTC-PERP": "BTCUSD_PERP"})

	native, err := b.DenormalizeSymbol("BTC-PERP")
	require.NoError(t, err)
	require.Equal(t, "BTCUSD_PERP", native)

	canonical, err := b.NormalizeSymbol("BTCUSD_PERP")
	require.NoError(t, err)
	require.Equal(t, "BTC-PERP", canonical)
}

func TestBaseSymbolMappingFallback(t *testing.T) {
	b := NewBase(domain.VenueLighter, 60, nil)

	canonical, err := b.NormalizeSymbol("ETH")
	require.NoError(t, err)
	require.Equal(t, "ETH-PERP", canonical)

	native, err := b.DenormalizeSymbol("ETH-PERP")
	require.NoError(t, err)
	require.Equal(t, "ETH", native)

	_, err = b.DenormalizeSymbol("unknown-symbol")
	require.Error(t, err)
}

type fakeCanceler struct {
	cancelResult CancelResult
	cancelErr    error
	placeAck     OrderAck
	placeErr     error
	lastPlaced   OrderRequest
}

func (f *fakeCanceler) CancelOrder(ctx context.Context, venueOrderID string) (CancelResult, error) {
	return f.cancelResult, f.cancelErr
}

func (f *fakeCanceler) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	f.lastPlaced = req
	return f.placeAck, f.placeErr
}

func TestCancelThenReplaceMergesChanges(t *testing.T) {
	fc := &fakeCanceler{
		cancelResult: CancelResult{Canceled: true},
		placeAck:     OrderAck{VenueOrderID: "new-id"},
	}
	newQty := decimal.NewFromInt(5)
	newPrice := decimal.NewFromInt(100)

	ack, err := CancelThenReplace(context.Background(), fc, "old-id", OrderRequest{
		Symbol: "BTC-PERP", Quantity: decimal.NewFromInt(1),
	}, ModifyChanges{NewQuantity: &newQty, NewLimitPrice: &newPrice})

	require.NoError(t, err)
	require.Equal(t, "new-id", ack.VenueOrderID)
	require.True(t, fc.lastPlaced.Quantity.Equal(newQty))
	require.Equal(t, newPrice, *fc.lastPlaced.LimitPrice)
}

func TestCancelThenReplaceFailsWhenVenueDeclinesCancel(t *testing.T) {
	fc := &fakeCanceler{cancelResult: CancelResult{Canceled: false, AlreadyTerminal: false}}
	_, err := CancelThenReplace(context.Background(), fc, "old-id", OrderRequest{}, ModifyChanges{})
	require.Error(t, err)
}

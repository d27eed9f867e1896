package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// Base holds the scaffolding shared by every concrete adapter: a
// per-binding rate limiter, a canonical<->native symbol map, and call
// counters. Mirrors a RateLimiter-field-plus-per-order-bookkeeping idiom
// common to exchange client packages. Concrete adapters embed *Base and
// call its helpers rather than duplicating this logic.
type Base struct {
	venue   domain.VenueTag
	limiter *rate.Limiter

	mu         sync.RWMutex
	nativeBySymbol map[string]string // canonical -> native
	symbolByNative map[string]string // native -> canonical

	requestCount int64
	errorCount   int64
}

// NewBase constructs shared adapter scaffolding. requestsPerMinute drives
// the token bucket; symbolMap seeds the canonical<->native translation
// table (e.g. {"BTC-PERP": "BTCUSD_PERP"} for edgex-style venues).
func NewBase(venueTag domain.VenueTag, requestsPerMinute int, symbolMap map[string]string) *Base {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	b := &Base{
		venue:          venueTag,
		limiter:        rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		nativeBySymbol: make(map[string]string, len(symbolMap)),
		symbolByNative: make(map[string]string, len(symbolMap)),
	}
	for canonical, native := range symbolMap {
		b.nativeBySymbol[canonical] = native
		b.symbolByNative[native] = canonical
	}
	return b
}

func (b *Base) Venue() domain.VenueTag { return b.venue }

// Wait blocks until the rate limiter admits one more call, or ctx is
// canceled first.
func (b *Base) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// RecordRequest and RecordError track basic call stats, surfaced through
// Stats for diagnostics and health checks.
func (b *Base) RecordRequest() { atomic.AddInt64(&b.requestCount, 1) }
func (b *Base) RecordError()   { atomic.AddInt64(&b.errorCount, 1) }

// Stats returns (requestCount, errorCount) observed so far.
func (b *Base) Stats() (int64, int64) {
	return atomic.LoadInt64(&b.requestCount), atomic.LoadInt64(&b.errorCount)
}

// RegisterSymbol adds or overwrites one canonical<->native mapping, for
// adapters that discover their tradable symbol list at Connect time
// rather than from a static table.
func (b *Base) RegisterSymbol(canonical, native string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nativeBySymbol[canonical] = native
	b.symbolByNative[native] = canonical
}

// NormalizeSymbol implements Adapter.NormalizeSymbol against Base's table,
// falling back to an identity mapping with a "-PERP" suffix check when the
// native symbol isn't in the table yet (covers venues with a mechanical
// naming scheme, e.g. hyperliquid's coin names, "BTC" -> "BTC-PERP").
func (b *Base) NormalizeSymbol(native string) (string, error) {
	b.mu.RLock()
	canonical, ok := b.symbolByNative[native]
	b.mu.RUnlock()
	if ok {
		return canonical, nil
	}
	if strings.HasSuffix(native, "-PERP") {
		return native, nil
	}
	return native + "-PERP", nil
}

// DenormalizeSymbol implements Adapter.DenormalizeSymbol against Base's
// table, falling back to stripping a "-PERP" suffix.
func (b *Base) DenormalizeSymbol(canonical string) (string, error) {
	b.mu.RLock()
	native, ok := b.nativeBySymbol[canonical]
	b.mu.RUnlock()
	if ok {
		return native, nil
	}
	if strings.HasSuffix(canonical, "-PERP") {
		return strings.TrimSuffix(canonical, "-PERP"), nil
	}
	return "", fmt.Errorf("venue: no native symbol mapping for %q", canonical)
}

// Canceler is the subset of Adapter an adapter implementation passes to
// CancelThenReplace: its own CancelOrder and PlaceOrder methods.
type Canceler interface {
	CancelOrder(ctx context.Context, venueOrderID string) (CancelResult, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// CancelThenReplace implements ModifyOrder for venues without native
// in-place modification (spec §4.3): cancel the resting order, then place
// a new one with the merged fields. The original symbol/side/kind/TIF
// must be supplied by the caller since the wire protocol for CancelOrder
// doesn't return them.
func CancelThenReplace(ctx context.Context, c Canceler, venueOrderID string, original OrderRequest, changes ModifyChanges) (OrderAck, error) {
	cancelRes, err := c.CancelOrder(ctx, venueOrderID)
	if err != nil {
		return OrderAck{}, fmt.Errorf("venue: cancel-then-replace: cancel failed: %w", err)
	}
	if !cancelRes.Canceled && !cancelRes.AlreadyTerminal {
		return OrderAck{}, fmt.Errorf("venue: cancel-then-replace: venue declined to cancel %s", venueOrderID)
	}

	replacement := original
	if changes.NewQuantity != nil {
		replacement.Quantity = *changes.NewQuantity
	}
	if changes.NewLimitPrice != nil {
		replacement.LimitPrice = changes.NewLimitPrice
	}
	if changes.NewStopPrice != nil {
		replacement.StopPrice = changes.NewStopPrice
	}

	return c.PlaceOrder(ctx, replacement)
}

// PositionCloser is the subset of Adapter an adapter passes to
// ClosePositionByReduceOnly: its own GetPositions and PlaceOrder methods.
type PositionCloser interface {
	GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// ClosePositionByReduceOnly implements ClosePosition for venues with no
// dedicated close-position endpoint: look up the open position on symbol,
// then place a reduce-only market order in the opposing direction for the
// requested quantity (or the position's full quantity when nil).
func ClosePositionByReduceOnly(ctx context.Context, c PositionCloser, symbol string, quantity *decimal.Decimal) (OrderAck, error) {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return OrderAck{}, fmt.Errorf("venue: close position: load position: %w", err)
	}
	var pos *PositionSnapshot
	for i := range positions {
		if positions[i].Symbol == symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return OrderAck{}, fmt.Errorf("venue: close position: no open position for %s", symbol)
	}

	qty := pos.Quantity
	if quantity != nil && quantity.LessThan(qty) {
		qty = *quantity
	}

	side := domain.SideSell
	if pos.Side == domain.PositionSideShort {
		side = domain.SideBuy
	}

	return c.PlaceOrder(ctx, OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Kind:        domain.OrderKindMarket,
		Quantity:    qty,
		TimeInForce: domain.TIFIOC,
		ReduceOnly:  true,
	})
}

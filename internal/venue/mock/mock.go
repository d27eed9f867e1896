// Package mock implements a deterministic in-memory venue adapter used for
// development and integration tests. Grounded on the original Python
// MockConnector (connectors/mock/connector.py): same shape (always
// authenticates, market orders fill half on entry, synthesized order book
// around a base price table) but rewritten against this gateway's
// venue.Adapter contract and with randomness replaced by a seeded PRNG
// injected at construction so tests get reproducible output.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

var basePrices = map[string]decimal.Decimal{
	"BTC-PERP": decimal.NewFromInt(50000),
	"ETH-PERP": decimal.NewFromInt(3000),
	"SOL-PERP": decimal.NewFromInt(100),
}

type restingOrder struct {
	venueOrderID  string
	clientOrderID string
	req           venue.OrderRequest
	status        domain.OrderStatus
	filledQty     decimal.Decimal
	avgFillPrice  decimal.Decimal
}

// Adapter is the mock venue implementation.
type Adapter struct {
	*venue.Base

	rng *rand.Rand

	mu            sync.Mutex
	authenticated bool
	orderSeq      int
	orders        map[string]*restingOrder
	positions     map[string]venue.PositionSnapshot // keyed by symbol
	leverage      map[string]int                    // keyed by symbol
}

// New constructs a mock adapter. seed pins the PRNG so callers (tests)
// that need reproducible market data can pass a fixed value; cmd/gateway
// passes a fixed seed of 1.
func New(seed int64) *Adapter {
	return &Adapter{
		Base:      venue.NewBase(domain.VenueMock, 600, nil),
		rng:       rand.New(rand.NewSource(seed)),
		orders:    make(map[string]*restingOrder),
		positions: make(map[string]venue.PositionSnapshot),
		leverage:  make(map[string]int),
	}
}

func (a *Adapter) Connect(ctx context.Context, creds venue.Credentials) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	a.mu.Lock()
	a.authenticated = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) requireAuth() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authenticated {
		return fmt.Errorf("mock: not authenticated")
	}
	return nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	if err := a.requireAuth(); err != nil {
		return venue.OrderAck{}, err
	}
	if err := a.Wait(ctx); err != nil {
		return venue.OrderAck{}, err
	}
	a.RecordRequest()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.orderSeq++
	venueOrderID := fmt.Sprintf("mock-order-%d", a.orderSeq)

	price := basePrice(req.Symbol)
	if req.LimitPrice != nil {
		price = *req.LimitPrice
	}

	ro := &restingOrder{
		venueOrderID:  venueOrderID,
		clientOrderID: req.ClientOrderID,
		req:           req,
		status:        domain.OrderStatusNew,
		filledQty:     decimal.Zero,
		avgFillPrice:  price,
	}

	// Market orders fill half immediately, mirroring the reference mock.
	if req.Kind == domain.OrderKindMarket {
		ro.filledQty = req.Quantity.Div(decimal.NewFromInt(2))
		ro.status = domain.OrderStatusPartiallyFilled
	}

	a.orders[venueOrderID] = ro

	return venue.OrderAck{
		VenueOrderID: venueOrderID,
		Status:       ro.status,
		FilledQty:    ro.filledQty,
		AvgFillPrice: ro.avgFillPrice,
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, venueOrderID string) (venue.CancelResult, error) {
	if err := a.requireAuth(); err != nil {
		return venue.CancelResult{}, err
	}
	a.RecordRequest()

	a.mu.Lock()
	defer a.mu.Unlock()

	ro, ok := a.orders[venueOrderID]
	if !ok {
		return venue.CancelResult{VenueOrderID: venueOrderID, Canceled: false}, nil
	}
	if ro.status.IsTerminal() {
		return venue.CancelResult{VenueOrderID: venueOrderID, AlreadyTerminal: true}, nil
	}
	ro.status = domain.OrderStatusCanceled
	return venue.CancelResult{VenueOrderID: venueOrderID, Canceled: true}, nil
}

func (a *Adapter) CancelAll(ctx context.Context, symbol string) ([]venue.CancelResult, error) {
	if err := a.requireAuth(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	ids := make([]string, 0)
	for id, ro := range a.orders {
		if ro.status.IsTerminal() {
			continue
		}
		if symbol != "" && ro.req.Symbol != symbol {
			continue
		}
		ids = append(ids, id)
	}
	a.mu.Unlock()

	results := make([]venue.CancelResult, 0, len(ids))
	for _, id := range ids {
		res, err := a.CancelOrder(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, venueOrderID string, changes venue.ModifyChanges) (venue.OrderAck, error) {
	a.mu.Lock()
	ro, ok := a.orders[venueOrderID]
	var original venue.OrderRequest
	if ok {
		original = ro.req
	}
	a.mu.Unlock()
	if !ok {
		return venue.OrderAck{}, fmt.Errorf("mock: order %s not found", venueOrderID)
	}
	// Mock venue has no native modify; drive it through cancel-then-replace
	// like the real no-native-modify venues do.
	return venue.CancelThenReplace(ctx, a, venueOrderID, original, changes)
}

func (a *Adapter) GetAccountInfo(ctx context.Context) (venue.AccountInfo, error) {
	if err := a.requireAuth(); err != nil {
		return venue.AccountInfo{}, err
	}
	positions, _ := a.GetPositions(ctx, "")

	totalUnrealized := decimal.Zero
	totalMargin := decimal.Zero
	for _, p := range positions {
		totalUnrealized = totalUnrealized.Add(p.UnrealizedPnL)
		totalMargin = totalMargin.Add(p.Margin)
	}
	balance := decimal.NewFromInt(10000).Add(totalUnrealized)

	return venue.AccountInfo{
		Balances: []venue.Balance{{
			Asset:     "USDC",
			Total:     balance,
			Available: balance.Sub(totalMargin),
			Margin:    totalMargin,
		}},
		UnrealizedPnL:     totalUnrealized,
		MaintenanceMargin: totalMargin,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context, symbol string) ([]venue.PositionSnapshot, error) {
	if err := a.requireAuth(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	if len(a.positions) == 0 && symbol == "" {
		a.positions["BTC-PERP"] = venue.PositionSnapshot{
			Symbol: "BTC-PERP", Side: domain.PositionSideLong,
			Quantity: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromInt(50000),
			MarkPrice: decimal.NewFromInt(50500), UnrealizedPnL: decimal.NewFromInt(50),
			Margin: decimal.NewFromInt(500),
		}
		a.positions["ETH-PERP"] = venue.PositionSnapshot{
			Symbol: "ETH-PERP", Side: domain.PositionSideShort,
			Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(3000),
			MarkPrice: decimal.NewFromInt(2950), UnrealizedPnL: decimal.NewFromInt(50),
			Margin: decimal.NewFromInt(300),
		}
	}
	out := make([]venue.PositionSnapshot, 0, len(a.positions))
	for sym, p := range a.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, p)
	}
	a.mu.Unlock()
	return out, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]venue.OrderSnapshot, error) {
	if err := a.requireAuth(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]venue.OrderSnapshot, 0)
	for _, ro := range a.orders {
		if ro.status.IsTerminal() {
			continue
		}
		if symbol != "" && ro.req.Symbol != symbol {
			continue
		}
		out = append(out, venue.OrderSnapshot{
			VenueOrderID:  ro.venueOrderID,
			ClientOrderID: ro.clientOrderID,
			Symbol:        ro.req.Symbol,
			Status:        ro.status,
			FilledQty:     ro.filledQty,
			AvgFillPrice:  ro.avgFillPrice,
		})
	}
	return out, nil
}

func (a *Adapter) GetOrder(ctx context.Context, venueOrderID string) (venue.OrderSnapshot, error) {
	if err := a.requireAuth(); err != nil {
		return venue.OrderSnapshot{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ro, ok := a.orders[venueOrderID]
	if !ok {
		return venue.OrderSnapshot{}, fmt.Errorf("mock: order %s not found", venueOrderID)
	}
	return venue.OrderSnapshot{
		VenueOrderID:  ro.venueOrderID,
		ClientOrderID: ro.clientOrderID,
		Symbol:        ro.req.Symbol,
		Status:        ro.status,
		FilledQty:     ro.filledQty,
		AvgFillPrice:  ro.avgFillPrice,
	}, nil
}

func (a *Adapter) GetOrders(ctx context.Context, filters venue.OrderFilters) ([]venue.OrderSnapshot, error) {
	if err := a.requireAuth(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]venue.OrderSnapshot, 0)
	for _, ro := range a.orders {
		if filters.Symbol != "" && ro.req.Symbol != filters.Symbol {
			continue
		}
		if filters.Status != "" && ro.status != filters.Status {
			continue
		}
		out = append(out, venue.OrderSnapshot{
			VenueOrderID:  ro.venueOrderID,
			ClientOrderID: ro.clientOrderID,
			Symbol:        ro.req.Symbol,
			Status:        ro.status,
			FilledQty:     ro.filledQty,
			AvgFillPrice:  ro.avgFillPrice,
		})
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	if leverage <= 0 {
		return fmt.Errorf("mock: leverage must be positive")
	}
	a.mu.Lock()
	a.leverage[symbol] = leverage
	if p, ok := a.positions[symbol]; ok {
		p.Leverage = decimal.NewFromInt(int64(leverage))
		a.positions[symbol] = p
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) (venue.OrderAck, error) {
	if err := a.requireAuth(); err != nil {
		return venue.OrderAck{}, err
	}
	return venue.ClosePositionByReduceOnly(ctx, a, symbol, quantity)
}

func (a *Adapter) GetBalance(ctx context.Context, asset string) ([]venue.Balance, error) {
	info, err := a.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	if asset == "" {
		return info.Balances, nil
	}
	for _, b := range info.Balances {
		if b.Asset == asset {
			return []venue.Balance{b}, nil
		}
	}
	return nil, nil
}

func (a *Adapter) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]venue.VenueTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	base := basePrice(symbol)
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]venue.VenueTrade, 0, limit)
	for i := 0; i < limit; i++ {
		jitter := (a.rng.Float64()*2 - 1) * base.Mul(decimal.NewFromFloat(0.0005)).InexactFloat64()
		side := domain.SideBuy
		if a.rng.Float64() < 0.5 {
			side = domain.SideSell
		}
		out = append(out, venue.VenueTrade{
			Symbol:    symbol,
			Price:     base.Add(decimal.NewFromFloat(jitter)),
			Quantity:  decimal.NewFromFloat(0.01 + a.rng.Float64()*2),
			Side:      side,
			Timestamp: now.Add(-time.Duration(i) * time.Second),
		})
	}
	return out, nil
}

// Unsubscribe is a no-op: Stream carries every update kind on one channel,
// so there is nothing to selectively stop beyond canceling Stream's ctx.
func (a *Adapter) Unsubscribe(ctx context.Context, channels []string) error {
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.authenticated = false
	a.mu.Unlock()
	return nil
}

func basePrice(symbol string) decimal.Decimal {
	if p, ok := basePrices[symbol]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

func (a *Adapter) GetMarketData(ctx context.Context, symbol string) (venue.MarketData, error) {
	base := basePrice(symbol)
	spread := base.Mul(decimal.NewFromFloat(0.0001))

	a.mu.Lock()
	jitter := (a.rng.Float64()*2 - 1) * spread.Mul(decimal.NewFromInt(2)).InexactFloat64()
	a.mu.Unlock()

	return venue.MarketData{
		Symbol:    symbol,
		BidPrice:  base.Sub(spread),
		AskPrice:  base.Add(spread),
		MarkPrice: base,
		LastPrice: base.Add(decimal.NewFromFloat(jitter)),
		Timestamp: time.Now(),
	}, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (venue.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	md, err := a.GetMarketData(ctx, symbol)
	if err != nil {
		return venue.OrderBook{}, err
	}
	tick := md.BidPrice.Mul(decimal.NewFromFloat(0.00001))

	bids := make([]venue.OrderBookLevel, 0, depth)
	asks := make([]venue.OrderBookLevel, 0, depth)
	a.mu.Lock()
	for i := 0; i < depth; i++ {
		bids = append(bids, venue.OrderBookLevel{
			Price: md.BidPrice.Sub(tick.Mul(decimal.NewFromInt(int64(i)))),
			Size:  decimal.NewFromFloat(0.1 + a.rng.Float64()*9.9),
		})
		asks = append(asks, venue.OrderBookLevel{
			Price: md.AskPrice.Add(tick.Mul(decimal.NewFromInt(int64(i)))),
			Size:  decimal.NewFromFloat(0.1 + a.rng.Float64()*9.9),
		})
	}
	a.mu.Unlock()

	return venue.OrderBook{Symbol: symbol, Bids: bids, Asks: asks, Timestamp: md.Timestamp}, nil
}

func (a *Adapter) GetFundingRate(ctx context.Context, symbol string) (venue.FundingRate, error) {
	a.mu.Lock()
	rate := decimal.NewFromFloat((a.rng.Float64()*2 - 1) * 0.0001)
	a.mu.Unlock()
	return venue.FundingRate{Symbol: symbol, Rate: rate, NextFunding: time.Now().Add(time.Hour)}, nil
}

// Stream emits a synthetic position mark-price update once a second until
// ctx is canceled, mirroring the reference mock's subscribe_to_updates.
func (a *Adapter) Stream(ctx context.Context) (<-chan venue.Update, error) {
	if err := a.requireAuth(); err != nil {
		return nil, err
	}
	out := make(chan venue.Update, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				for sym, p := range a.positions {
					delta := decimal.NewFromFloat(a.rng.Float64()*20 - 10)
					p.MarkPrice = p.MarkPrice.Add(delta)
					sign := decimal.NewFromInt(1)
					if p.Side == domain.PositionSideShort {
						sign = decimal.NewFromInt(-1)
					}
					p.UnrealizedPnL = p.MarkPrice.Sub(p.EntryPrice).Mul(p.Quantity).Mul(sign)
					a.positions[sym] = p
					snap := p
					select {
					case out <- venue.Update{Kind: venue.UpdateKindPosition, Position: &snap}:
					default:
					}
				}
				a.mu.Unlock()
			}
		}
	}()
	return out, nil
}

// Package position implements the Position Tracker: apply fills to
// position state, compute unrealized PnL, append history snapshots,
// reconcile with venue snapshots, and flag liquidation risk. Grounded on
// a long-lived component wrapping mutable per-entity state behind a
// mutex, with metrics recomputed on demand, generalized from
// portfolio-wide risk tracking to per-(binding, symbol) position
// tracking.
package position

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/gatewayerrors"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

// liquidationWarnDistance and liquidationHighDistance are the thresholds
// from §4.4: distance below 10% is reported, below 5% is tagged HIGH.
const (
	liquidationWarnDistance = "0.10"
	liquidationHighDistance = "0.05"
)

// Update carries one fill (or any other position-affecting event) into
// ApplyUpdate: a signed quantity delta, the realized PnL and fee it
// produced, and the mark price observed at the time.
type Update struct {
	Symbol        string
	QuantityDelta decimal.Decimal // signed: positive increases LONG / reduces SHORT
	RealizedPnL   decimal.Decimal
	Fee           decimal.Decimal
	MarkPrice     decimal.Decimal
}

// LiquidationWarning is one entry returned by CheckLiquidationRisk.
type LiquidationWarning struct {
	Position *domain.Position
	Distance decimal.Decimal // fraction, e.g. 0.04 == 4%
	Severity string          // "HIGH" or "MEDIUM"
}

// Metrics is the per-account rollup computed over a window, per §4.4.
type Metrics struct {
	TotalPositions     int
	OpenPositions      int
	TotalUnrealizedPnL decimal.Decimal
	TotalRealizedPnL   decimal.Decimal
	TotalMargin        decimal.Decimal
	TotalNotionalValue decimal.Decimal
	WinRate            decimal.Decimal
	AvgWin             decimal.Decimal
	AvgLoss            decimal.Decimal
	ProfitFactor       decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
}

// Tracker is the Position Tracker. Safe for concurrent use: mutation of
// any single (binding, symbol) position serializes through a striped
// lock, while unrelated positions proceed concurrently.
type Tracker struct {
	positions *store.PositionStore
	history   *store.PositionHistoryStore
	logger    *observability.Logger
	metrics   *observability.Metrics

	lockStripes []sync.Mutex
}

// New constructs a Tracker with a fixed 64-stripe lock set, the same
// bounded-memory locking idiom internal/executor uses for orders.
func New(positions *store.PositionStore, history *store.PositionHistoryStore, logger *observability.Logger, metrics *observability.Metrics) *Tracker {
	return &Tracker{
		positions:   positions,
		history:     history,
		logger:      logger,
		metrics:     metrics,
		lockStripes: make([]sync.Mutex, 64),
	}
}

func (t *Tracker) lockFor(bindingID, symbol string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bindingID + "|" + symbol))
	return &t.lockStripes[h.Sum32()%uint32(len(t.lockStripes))]
}

// ApplyUpdate implements the §4.4 algorithm: load the OPEN position for
// (binding, symbol); open one if none exists and the delta grows
// exposure; otherwise update quantity, entry price (volume-weighted), and
// accumulated realized PnL, transitioning to CLOSED if the new quantity
// crosses or lands on zero.
func (t *Tracker) ApplyUpdate(ctx context.Context, bindingID string, upd Update) (*domain.Position, error) {
	mu := t.lockFor(bindingID, upd.Symbol)
	mu.Lock()
	defer mu.Unlock()

	existing, err := t.positions.GetOpen(ctx, bindingID, upd.Symbol)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("position: load open position: %w", err)
	}

	now := time.Now().UTC()

	if existing == nil {
		if upd.QuantityDelta.IsZero() {
			return nil, nil
		}
		side := domain.PositionSideLong
		if upd.QuantityDelta.IsNegative() {
			side = domain.PositionSideShort
		}
		p := &domain.Position{
			ID:              uuid.NewString(),
			BindingID:       bindingID,
			Symbol:          upd.Symbol,
			Side:            side,
			Quantity:        upd.QuantityDelta.Abs(),
			InitialQuantity: upd.QuantityDelta.Abs(),
			EntryPrice:      upd.MarkPrice,
			MarkPrice:       upd.MarkPrice,
			RealizedPnL:     upd.RealizedPnL,
			Status:          domain.PositionStatusOpen,
			OpenedAt:        now,
			UpdatedAt:       now,
		}
		p.UnrealizedPnL = unrealizedPnL(p)
		if err := t.positions.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("position: create: %w", err)
		}
		t.appendHistory(ctx, p)
		t.recordMetric()
		return p, nil
	}

	signedOld := signedQuantity(existing)
	signedNew := signedOld.Add(upd.QuantityDelta)

	if signedNew.IsZero() || signedNew.Sign() != signedOld.Sign() {
		// Crossing or landing on zero exhausts the position — close it
		// outright rather than flip it, per the Position invariant that
		// quantity > 0 only while OPEN. A caller that wants the residual
		// exposure on the other side must submit it as a new order.
		existing.Quantity = decimal.Zero
		existing.RealizedPnL = existing.RealizedPnL.Add(upd.RealizedPnL)
		existing.Status = domain.PositionStatusClosed
		existing.UpdatedAt = now
		existing.ClosedAt = &now
		if err := t.positions.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("position: close on update: %w", err)
		}
		t.appendHistory(ctx, existing)
		t.recordMetric()
		return existing, nil
	}

	if upd.QuantityDelta.Sign() == signedOld.Sign() {
		// Same-sign addition: roll the entry price forward as a
		// volume-weighted mean of the old and incoming exposure.
		addQty := upd.QuantityDelta.Abs()
		totalQty := existing.Quantity.Add(addQty)
		existing.EntryPrice = existing.EntryPrice.Mul(existing.Quantity).
			Add(upd.MarkPrice.Mul(addQty)).
			Div(totalQty)
		existing.Quantity = totalQty
	} else {
		existing.Quantity = signedNew.Abs()
	}
	existing.MarkPrice = upd.MarkPrice
	existing.RealizedPnL = existing.RealizedPnL.Add(upd.RealizedPnL)
	existing.UnrealizedPnL = unrealizedPnL(existing)
	existing.UpdatedAt = now

	if err := t.positions.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("position: update: %w", err)
	}
	t.appendHistory(ctx, existing)
	t.recordMetric()
	return existing, nil
}

// ClosePosition closes the OPEN position for (binding, symbol) at
// exitPrice, realizing the remaining PnL and appending a final history
// row. Returns gatewayerrors.KindPositionNotFound if none is open.
func (t *Tracker) ClosePosition(ctx context.Context, bindingID, symbol string, exitPrice decimal.Decimal) (*domain.Position, error) {
	mu := t.lockFor(bindingID, symbol)
	mu.Lock()
	defer mu.Unlock()

	p, err := t.positions.GetOpen(ctx, bindingID, symbol)
	if err == store.ErrNotFound || p == nil {
		return nil, gatewayerrors.NewPositionNotFound(bindingID, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("position: load open position: %w", err)
	}

	finalPnL := pnlAt(p, exitPrice)
	p.RealizedPnL = p.RealizedPnL.Add(finalPnL)
	p.UnrealizedPnL = decimal.Zero
	p.MarkPrice = exitPrice
	p.Quantity = decimal.Zero
	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.UpdatedAt = now
	p.ClosedAt = &now

	if err := t.positions.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("position: close: %w", err)
	}
	t.appendHistory(ctx, p)
	return p, nil
}

// SyncPositions reconciles locally-tracked OPEN positions for a binding
// against the venue's authoritative snapshot (§4.4): unseen venue
// positions are upserted, and any local OPEN position absent from the
// snapshot is stale-closed with a WARN log entry (Open Question
// resolution #3), distinguishing a forced closure from a fill-driven one.
func (t *Tracker) SyncPositions(ctx context.Context, bindingID string, venueSnapshots []venue.PositionSnapshot) error {
	bySymbol := make(map[string]venue.PositionSnapshot, len(venueSnapshots))
	for _, s := range venueSnapshots {
		bySymbol[s.Symbol] = s
	}

	local, err := t.positions.ListOpenByBinding(ctx, bindingID)
	if err != nil {
		return fmt.Errorf("position: list open positions: %w", err)
	}

	for _, p := range local {
		snap, present := bySymbol[p.Symbol]
		if !present {
			mu := t.lockFor(bindingID, p.Symbol)
			mu.Lock()
			now := time.Now().UTC()
			p.Status = domain.PositionStatusClosed
			p.Quantity = decimal.Zero
			p.UpdatedAt = now
			p.ClosedAt = &now
			err := t.positions.Update(ctx, p)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("position: stale-close %s/%s: %w", bindingID, p.Symbol, err)
			}
			if t.logger != nil {
				t.logger.Warn(ctx, "position stale-closed: absent from venue snapshot", map[string]any{
					"binding_id": bindingID, "symbol": p.Symbol,
				})
			}
			continue
		}
		delete(bySymbol, p.Symbol)
		t.upsertFromSnapshot(ctx, bindingID, snap, p)
	}

	for _, snap := range bySymbol {
		t.upsertFromSnapshot(ctx, bindingID, snap, nil)
	}
	return nil
}

func (t *Tracker) upsertFromSnapshot(ctx context.Context, bindingID string, snap venue.PositionSnapshot, local *domain.Position) {
	mu := t.lockFor(bindingID, snap.Symbol)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	if local == nil {
		p := &domain.Position{
			ID: uuid.NewString(), BindingID: bindingID, Symbol: snap.Symbol,
			Side: snap.Side, Quantity: snap.Quantity, InitialQuantity: snap.Quantity,
			EntryPrice: snap.EntryPrice, MarkPrice: snap.MarkPrice,
			LiquidationPrice: snap.LiquidationPrice, Leverage: snap.Leverage,
			Status: domain.PositionStatusOpen, OpenedAt: now, UpdatedAt: now,
		}
		p.UnrealizedPnL = unrealizedPnL(p)
		if err := t.positions.Create(ctx, p); err != nil && t.logger != nil {
			t.logger.Error(ctx, "position sync: create failed", err, map[string]any{"binding_id": bindingID, "symbol": snap.Symbol})
		}
		return
	}

	local.Quantity = snap.Quantity
	local.MarkPrice = snap.MarkPrice
	local.EntryPrice = snap.EntryPrice
	local.LiquidationPrice = snap.LiquidationPrice
	local.Leverage = snap.Leverage
	local.UnrealizedPnL = unrealizedPnL(local)
	local.UpdatedAt = now
	if err := t.positions.Update(ctx, local); err != nil && t.logger != nil {
		t.logger.Error(ctx, "position sync: update failed", err, map[string]any{"binding_id": bindingID, "symbol": snap.Symbol})
	}
}

// CheckLiquidationRisk scans every OPEN position with a non-null
// liquidation price and returns those within 10% of liquidation,
// directionally computed per §4.4 (LONG: (mark-liq)/mark; SHORT:
// (liq-mark)/mark), tagged HIGH under 5% and MEDIUM otherwise.
func (t *Tracker) CheckLiquidationRisk(ctx context.Context, bindingID string) ([]LiquidationWarning, error) {
	open, err := t.positions.ListOpenByBinding(ctx, bindingID)
	if err != nil {
		return nil, fmt.Errorf("position: list open positions: %w", err)
	}

	warnThreshold := decimal.RequireFromString(liquidationWarnDistance)
	highThreshold := decimal.RequireFromString(liquidationHighDistance)

	var warnings []LiquidationWarning
	for _, p := range open {
		if p.LiquidationPrice == nil || p.MarkPrice.IsZero() {
			continue
		}
		var distance decimal.Decimal
		if p.Side == domain.PositionSideLong {
			distance = p.MarkPrice.Sub(*p.LiquidationPrice).Div(p.MarkPrice)
		} else {
			distance = p.LiquidationPrice.Sub(p.MarkPrice).Div(p.MarkPrice)
		}
		if distance.GreaterThanOrEqual(warnThreshold) {
			continue
		}
		severity := "MEDIUM"
		if distance.LessThan(highThreshold) {
			severity = "HIGH"
		}
		warnings = append(warnings, LiquidationWarning{Position: p, Distance: distance, Severity: severity})
	}
	return warnings, nil
}

// ComputeMetrics rolls up per-account metrics over the position history
// of the given positions, per §4.4. maxDrawdown is computed from the
// cumulative realized+unrealized PnL series, as max(peak-trough)/peak.
func (t *Tracker) ComputeMetrics(ctx context.Context, positions []*domain.Position) (Metrics, error) {
	m := Metrics{
		TotalUnrealizedPnL: decimal.Zero, TotalRealizedPnL: decimal.Zero,
		TotalMargin: decimal.Zero, TotalNotionalValue: decimal.Zero,
	}

	var wins, losses int
	var sumWins, sumLosses decimal.Decimal
	sumWins, sumLosses = decimal.Zero, decimal.Zero

	var cumulative []decimal.Decimal
	running := decimal.Zero

	for _, p := range positions {
		m.TotalPositions++
		if p.Status == domain.PositionStatusOpen || p.Status == domain.PositionStatusClosing {
			m.OpenPositions++
		}
		m.TotalUnrealizedPnL = m.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
		m.TotalRealizedPnL = m.TotalRealizedPnL.Add(p.RealizedPnL)
		m.TotalMargin = m.TotalMargin.Add(p.Margin)
		m.TotalNotionalValue = m.TotalNotionalValue.Add(p.Quantity.Mul(p.MarkPrice))

		if p.Status == domain.PositionStatusClosed || p.Status == domain.PositionStatusLiquidated {
			if p.RealizedPnL.IsPositive() {
				wins++
				sumWins = sumWins.Add(p.RealizedPnL)
			} else if p.RealizedPnL.IsNegative() {
				losses++
				sumLosses = sumLosses.Add(p.RealizedPnL.Abs())
			}
		}

		hist, err := t.history.ListByPosition(ctx, p.ID)
		if err != nil {
			return Metrics{}, fmt.Errorf("position: metrics history: %w", err)
		}
		// Each history row's Delta holds the position's realized+unrealized
		// PnL level at that snapshot, so the running total advances by the
		// change since the position's previous row.
		prev := decimal.Zero
		for _, h := range hist {
			running = running.Add(h.Delta.Sub(prev))
			prev = h.Delta
			cumulative = append(cumulative, running)
		}
	}

	closedCount := wins + losses
	if closedCount > 0 {
		m.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(closedCount)))
	}
	if wins > 0 {
		m.AvgWin = sumWins.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		m.AvgLoss = sumLosses.Div(decimal.NewFromInt(int64(losses)))
	}
	if sumLosses.IsPositive() {
		m.ProfitFactor = sumWins.Div(sumLosses)
	}
	m.MaxDrawdownPct = maxDrawdown(cumulative)
	return m, nil
}

func maxDrawdown(series []decimal.Decimal) decimal.Decimal {
	if len(series) == 0 {
		return decimal.Zero
	}
	peak := series[0]
	maxDD := decimal.Zero
	for _, v := range series {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func (t *Tracker) appendHistory(ctx context.Context, p *domain.Position) {
	h := &domain.PositionHistory{
		ID: uuid.NewString(), PositionID: p.ID, Quantity: p.Quantity,
		MarkPrice: p.MarkPrice, UnrealizedPnL: p.UnrealizedPnL, RealizedPnL: p.RealizedPnL,
		Margin: p.Margin, Delta: p.UnrealizedPnL.Add(p.RealizedPnL), RecordedAt: time.Now().UTC(),
	}
	if err := t.history.Append(ctx, h); err != nil && t.logger != nil {
		t.logger.Error(ctx, "position: append history failed", err, map[string]any{"position_id": p.ID})
	}
}

func (t *Tracker) recordMetric() {
	if t.metrics != nil {
		t.metrics.PositionUpdates.Inc()
	}
}

func signedQuantity(p *domain.Position) decimal.Decimal {
	if p.Side == domain.PositionSideShort {
		return p.Quantity.Neg()
	}
	return p.Quantity
}

func unrealizedPnL(p *domain.Position) decimal.Decimal {
	return pnlAt(p, p.MarkPrice)
}

func pnlAt(p *domain.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == domain.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

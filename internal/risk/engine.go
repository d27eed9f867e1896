// Package risk implements the Risk Engine: per-account limits, the
// non-short-circuiting pre-trade check, on-demand and ticked risk metrics,
// a parametric VaR placeholder, and emergency flatten. Built around a
// background monitoring loop, alerts published through AlertPublisher, and
// mutex-protected per-account maps, with circuit-breaker and historical/Monte-Carlo VaR
// machinery left out — this gateway's "trip" case is its own
// emergency_close_all, and its VaR is a single parametric formula, not a
// pluggable model (see DESIGN.md for the dropped-method justification).
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/executor"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/position"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
)

// parametric VaR constants from spec §4.5: a fixed daily-volatility
// placeholder and the 95%-confidence z-score, not a fitted model.
var (
	varSigma = decimal.NewFromFloat(0.02)
	varZ95   = decimal.NewFromFloat(2.33)
)

// Limits holds one account's risk configuration. Zero-valued fields are
// filled from DefaultLimits when an account has never set its own.
type Limits struct {
	MaxPositionSizeUSD decimal.Decimal
	MaxLeverage        decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	MaxExposureUSD     decimal.Decimal
	MinMarginRatio     decimal.Decimal
	MaxOrdersPerMinute int
	MaxDailyLossUSD    decimal.Decimal
	PerSymbolSizeUSD   map[string]decimal.Decimal
}

// DefaultLimits returns the gateway-wide defaults applied when an account
// has not configured its own risk limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizeUSD: decimal.NewFromInt(100000),
		MaxLeverage:        decimal.NewFromInt(20),
		MaxDrawdownPct:     decimal.NewFromFloat(0.5),
		MaxExposureUSD:     decimal.NewFromInt(500000),
		MinMarginRatio:     decimal.NewFromFloat(0.05),
		MaxOrdersPerMinute: 60,
		MaxDailyLossUSD:    decimal.NewFromInt(10000),
		PerSymbolSizeUSD:   map[string]decimal.Decimal{},
	}
}

// RiskLevel is the threshold-matrix classification of spec §4.5.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Metrics is the on-demand/ticked risk snapshot for one account.
type Metrics struct {
	TotalExposureUSD decimal.Decimal
	MarginUsagePct   decimal.Decimal
	LeverageRatio    decimal.Decimal
	VaR95            decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
	SharpePlaceholder decimal.Decimal
	Level            RiskLevel
}

// AlertPublisher is the narrow slice of the Notification Bus the Risk
// Engine emits through. Accepting this interface instead of a concrete
// *notify.Bus keeps the package graph acyclic.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, accountID, kind, priority, title, message string, data map[string]any)
}

// Engine is the Risk Engine. Construct with New and share it.
type Engine struct {
	accounts  *store.AccountStore
	bindings  *store.BindingStore
	positions *store.PositionStore
	tracker   *position.Tracker
	exec      *executor.Executor
	alerts    AlertPublisher
	logger    *observability.Logger
	metrics   *observability.Metrics

	tickInterval time.Duration

	mu              sync.Mutex
	limits          map[string]Limits      // accountID -> limits
	recentOrderTime map[string][]time.Time // accountID -> check timestamps, for the 60s window rule
	dailyPnLDay     map[string]time.Time   // accountID -> UTC day the counter below covers
	dailyRealized   map[string]decimal.Decimal

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Engine. tickInterval defaults to 30s (spec §4.5) when
// zero.
func New(
	accounts *store.AccountStore,
	bindings *store.BindingStore,
	positions *store.PositionStore,
	tracker *position.Tracker,
	exec *executor.Executor,
	alerts AlertPublisher,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tickInterval time.Duration,
) *Engine {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	return &Engine{
		accounts: accounts, bindings: bindings, positions: positions, tracker: tracker,
		exec: exec, alerts: alerts, logger: logger, metrics: metrics, tickInterval: tickInterval,
		limits:          make(map[string]Limits),
		recentOrderTime: make(map[string][]time.Time),
		dailyPnLDay:     make(map[string]time.Time),
		dailyRealized:   make(map[string]decimal.Decimal),
		stopCh:          make(chan struct{}),
	}
}

// SetLimits overrides the default limits for one account.
func (e *Engine) SetLimits(accountID string, l Limits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits[accountID] = l
}

func (e *Engine) limitsFor(accountID string) Limits {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.limits[accountID]; ok {
		return l
	}
	return DefaultLimits()
}

// RecordRealizedPnL accumulates an account's realized PnL for the current
// UTC day, feeding the daily-loss-limit rule in Check. No code in this
// repository outside the tests calls it.
func (e *Engine) RecordRealizedPnL(accountID string, delta decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if day, ok := e.dailyPnLDay[accountID]; !ok || !day.Equal(today) {
		e.dailyPnLDay[accountID] = today
		e.dailyRealized[accountID] = decimal.Zero
	}
	e.dailyRealized[accountID] = e.dailyRealized[accountID].Add(delta)
}

// Check implements the §4.5 pre-trade check. It never short-circuits —
// every violated rule is returned so the caller sees the complete set in
// one round trip.
func (e *Engine) Check(ctx context.Context, binding *domain.VenueBinding, req executor.PlaceOrderRequest) []string {
	account, err := e.accounts.Get(ctx, binding.AccountID)
	if err != nil {
		return []string{fmt.Sprintf("unable to load account risk profile: %v", err)}
	}
	limits := e.limitsFor(binding.AccountID)
	if account.MaxPositionSizeUSD.IsPositive() {
		limits.MaxPositionSizeUSD = account.MaxPositionSizeUSD
	}
	if account.MaxLeverage.IsPositive() {
		limits.MaxLeverage = account.MaxLeverage
	}

	leverage := req.Leverage
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}
	price := decimal.Zero
	if req.LimitPrice != nil {
		price = *req.LimitPrice
	}
	notional := req.Quantity.Mul(price)
	leveragedNotional := notional.Mul(leverage)

	var violations []string

	symbolCap, hasSymbolCap := limits.PerSymbolSizeUSD[req.Symbol]
	positionCap := limits.MaxPositionSizeUSD
	if hasSymbolCap {
		positionCap = symbolCap
	}
	if price.IsPositive() && notional.GreaterThan(positionCap) {
		violations = append(violations, "position_size_exceeds_cap")
	}

	if leverage.GreaterThan(limits.MaxLeverage) {
		violations = append(violations, "leverage_exceeds_max")
	}

	if open, err := e.positions.ListOpenByBinding(ctx, binding.ID); err == nil {
		currentExposure := decimal.Zero
		for _, p := range open {
			currentExposure = currentExposure.Add(p.Quantity.Mul(p.MarkPrice).Mul(decimalOrOne(p.Leverage)))
		}
		if currentExposure.Add(leveragedNotional).GreaterThan(limits.MaxExposureUSD) {
			violations = append(violations, "total_exposure_exceeds_max")
		}
	} else if e.logger != nil {
		e.logger.Warn(ctx, "risk check: failed to load open positions", map[string]any{"binding_id": binding.ID, "error": err.Error()})
	}

	if e.recentOrderCount(binding.AccountID) >= limits.MaxOrdersPerMinute {
		violations = append(violations, "order_rate_exceeds_max")
	}

	if e.dailyRealizedPnL(binding.AccountID).LessThan(limits.MaxDailyLossUSD.Neg()) {
		violations = append(violations, "daily_loss_limit_breached")
	}

	e.recordOrderAttempt(binding.AccountID)
	return violations
}

func decimalOrOne(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d
}

func (e *Engine) recordOrderAttempt(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-60 * time.Second)
	kept := e.recentOrderTime[accountID][:0]
	for _, t := range e.recentOrderTime[accountID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.recentOrderTime[accountID] = append(kept, now)
}

func (e *Engine) recentOrderCount(accountID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := time.Now().UTC().Add(-60 * time.Second)
	count := 0
	for _, t := range e.recentOrderTime[accountID] {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

func (e *Engine) dailyRealizedPnL(accountID string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if day, ok := e.dailyPnLDay[accountID]; !ok || !day.Equal(today) {
		return decimal.Zero
	}
	return e.dailyRealized[accountID]
}

// ComputeMetrics rolls up the on-demand risk snapshot for an account
// across its open positions, per §4.5.
func (e *Engine) ComputeMetrics(ctx context.Context, accountID string, bindingIDs []string) (Metrics, error) {
	var allOpen []*domain.Position
	totalExposure := decimal.Zero
	totalMargin := decimal.Zero
	sumLeverage := decimal.Zero
	count := 0

	for _, bindingID := range bindingIDs {
		open, err := e.positions.ListOpenByBinding(ctx, bindingID)
		if err != nil {
			return Metrics{}, fmt.Errorf("risk: list positions for metrics: %w", err)
		}
		allOpen = append(allOpen, open...)
		for _, p := range open {
			totalExposure = totalExposure.Add(p.Quantity.Mul(p.MarkPrice))
			totalMargin = totalMargin.Add(p.Margin)
			sumLeverage = sumLeverage.Add(decimalOrOne(p.Leverage))
			count++
		}
	}

	posMetrics, err := e.tracker.ComputeMetrics(ctx, allOpen)
	if err != nil {
		return Metrics{}, fmt.Errorf("risk: compute position metrics: %w", err)
	}

	m := Metrics{TotalExposureUSD: totalExposure, MaxDrawdownPct: posMetrics.MaxDrawdownPct}
	if totalExposure.IsPositive() {
		m.VaR95 = totalExposure.Mul(varSigma).Mul(varZ95)
	}
	if totalMargin.IsPositive() {
		m.MarginUsagePct = totalMargin.Div(totalExposure.Add(decimal.NewFromInt(1))) // +1 guards a zero-exposure division
	}
	if count > 0 {
		m.LeverageRatio = sumLeverage.Div(decimal.NewFromInt(int64(count)))
	}
	m.Level = classifyRiskLevel(m)
	return m, nil
}

// classifyRiskLevel implements the §4.5 threshold matrix over
// (margin_usage, leverage_ratio, drawdown).
func classifyRiskLevel(m Metrics) RiskLevel {
	critical := m.MarginUsagePct.GreaterThan(decimal.NewFromFloat(0.9)) ||
		m.LeverageRatio.GreaterThan(decimal.NewFromInt(15)) ||
		m.MaxDrawdownPct.GreaterThan(decimal.NewFromFloat(0.4))
	if critical {
		return RiskLevelCritical
	}
	high := m.MarginUsagePct.GreaterThan(decimal.NewFromFloat(0.7)) ||
		m.LeverageRatio.GreaterThan(decimal.NewFromInt(10)) ||
		m.MaxDrawdownPct.GreaterThan(decimal.NewFromFloat(0.25))
	if high {
		return RiskLevelHigh
	}
	medium := m.MarginUsagePct.GreaterThan(decimal.NewFromFloat(0.4)) ||
		m.LeverageRatio.GreaterThan(decimal.NewFromInt(5)) ||
		m.MaxDrawdownPct.GreaterThan(decimal.NewFromFloat(0.1))
	if medium {
		return RiskLevelMedium
	}
	return RiskLevelLow
}

// Monitor runs the per-account background monitoring loop of §4.5: on
// every tick, recompute metrics, warn on tight liquidation distance, and
// emit a CRITICAL alert when the risk level crosses into CRITICAL.
// Blocks until ctx is canceled or Stop is called.
func (e *Engine) Monitor(ctx context.Context, accountID string, bindingIDs []string) {
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(ctx, accountID, bindingIDs)
		}
	}
}

func (e *Engine) tick(ctx context.Context, accountID string, bindingIDs []string) {
	metrics, err := e.ComputeMetrics(ctx, accountID, bindingIDs)
	if err != nil {
		if e.logger != nil {
			e.logger.Error(ctx, "risk monitor: failed to compute metrics", err, map[string]any{"account_id": accountID})
		}
		return
	}

	for _, bindingID := range bindingIDs {
		warnings, err := e.tracker.CheckLiquidationRisk(ctx, bindingID)
		if err != nil {
			continue
		}
		for _, w := range warnings {
			if w.Severity != "HIGH" {
				continue
			}
			if e.alerts != nil {
				e.alerts.PublishAlert(ctx, accountID, "RISK_ALERT", "HIGH",
					"liquidation risk",
					fmt.Sprintf("%s distance to liquidation is %.2f%%", w.Position.Symbol, w.Distance.Mul(decimal.NewFromInt(100)).InexactFloat64()),
					map[string]any{"binding_id": bindingID, "symbol": w.Position.Symbol})
			}
		}
	}

	if metrics.Level == RiskLevelCritical && e.alerts != nil {
		e.alerts.PublishAlert(ctx, accountID, "RISK_ALERT", "CRITICAL",
			"account risk level critical",
			"margin usage, leverage, or drawdown crossed the critical threshold",
			map[string]any{"margin_usage_pct": metrics.MarginUsagePct.String(), "leverage_ratio": metrics.LeverageRatio.String()})
	}
}

// Stop signals every running Monitor loop to return.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// EmergencyCloseAll implements §4.5's flatten: close every OPEN position
// on binding with a reduce-only market order in the opposite direction,
// then cancel every non-terminal order. Idempotent — a binding with no
// open positions and no resting orders returns cleanly having done
// nothing.
func (e *Engine) EmergencyCloseAll(ctx context.Context, accountID, bindingID string) error {
	open, err := e.positions.ListOpenByBinding(ctx, bindingID)
	if err != nil {
		return fmt.Errorf("risk: emergency_close_all: list positions: %w", err)
	}

	for _, p := range open {
		side := domain.SideSell
		if p.Side == domain.PositionSideShort {
			side = domain.SideBuy
		}
		_, err := e.exec.PlaceOrder(ctx, executor.PlaceOrderRequest{
			AccountID: accountID, BindingID: bindingID, Symbol: p.Symbol,
			Side: side, Kind: domain.OrderKindMarket, Quantity: p.Quantity,
			TimeInForce: domain.TIFIOC, ReduceOnly: true,
		})
		if err != nil {
			return fmt.Errorf("risk: emergency_close_all: close %s: %w", p.Symbol, err)
		}
	}

	if _, errs := e.exec.CancelAll(ctx, bindingID, ""); len(errs) > 0 {
		return fmt.Errorf("risk: emergency_close_all: cancel remaining orders: %v", errs[0])
	}
	return nil
}

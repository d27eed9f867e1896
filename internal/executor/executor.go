// Package executor implements the Order Executor: validate, risk-check,
// persist PENDING, dispatch to the venue adapter, persist the result.
// Generalizes a single-process exchange order-manager shape to a
// multi-venue gateway with explicit persistence at every step and
// per-(binding, venue-order-id) striped locking instead of one mutex per
// order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/gatewayerrors"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/security"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

// defaultCallDeadline is applied to every adapter call that doesn't
// already carry a tighter deadline, per spec §5.
const defaultCallDeadline = 30 * time.Second

// RiskChecker is the subset of the Risk Engine the executor depends on.
// Accepting this narrow interface rather than a concrete *risk.Engine
// keeps the package graph acyclic and makes the executor testable
// without a real risk engine.
type RiskChecker interface {
	Check(ctx context.Context, binding *domain.VenueBinding, req PlaceOrderRequest) []string
}

// Notifier is the subset of the Notification Bus the executor publishes
// lifecycle events through.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, accountID string, order *domain.Order, eventKind string)
}

// PlaceOrderRequest is the executor's entry point for new orders.
type PlaceOrderRequest struct {
	AccountID     string
	BindingID     string
	Symbol        string
	Side          domain.OrderSide
	Kind          domain.OrderKind
	Quantity      decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   domain.TimeInForce
	ReduceOnly    bool
	PostOnly      bool
	IdempotencyID string
	Leverage      decimal.Decimal // zero means "use 1x" — risk check treats it as the requested leverage
}

// Executor is the Order Executor. Construct one with New and share it;
// it is safe for concurrent use.
type Executor struct {
	registry     *venue.Registry
	vault        *security.Vault
	orders       *store.OrderStore
	trades       *store.TradeStore
	bindings     *store.BindingStore
	risk         RiskChecker
	notifier     Notifier
	logger       *observability.Logger
	metrics      *observability.Metrics
	locks        *lockSet
	adapterCache *adapterCache
}

// New constructs an Executor. risk and notifier may be nil in tests that
// don't exercise those paths.
func New(
	registry *venue.Registry,
	vault *security.Vault,
	orders *store.OrderStore,
	trades *store.TradeStore,
	bindings *store.BindingStore,
	risk RiskChecker,
	notifier Notifier,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Executor {
	return &Executor{
		registry:     registry,
		vault:        vault,
		orders:       orders,
		trades:       trades,
		bindings:     bindings,
		risk:         risk,
		notifier:     notifier,
		logger:       logger,
		metrics:      metrics,
		locks:        newLockSet(64),
		adapterCache: newAdapterCache(),
	}
}

// SetRiskChecker wires the risk checker after construction, for callers
// that must break the executor/risk constructor cycle (the risk engine's
// own constructor takes the executor, for EmergencyCloseAll).
func (e *Executor) SetRiskChecker(risk RiskChecker) {
	e.risk = risk
}

// PlaceOrder validates, risk-checks, persists PENDING, dispatches to the
// venue, and persists the dispatch result — in that order, so a crash
// between any two steps leaves a recoverable, auditable row rather than
// silent divergence between the gateway and the venue.
func (e *Executor) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	binding, err := e.bindings.Get(ctx, req.BindingID)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindInternal, "load binding", err)
	}
	if !binding.Active {
		return nil, gatewayerrors.NewValidationFailed("binding is inactive")
	}

	if err := validatePlaceOrderRequest(req); err != nil {
		return nil, err
	}

	if required, available, ok := sufficientBalance(binding, req); !ok {
		return nil, gatewayerrors.NewInsufficientBalance(required.String(), available.String())
	}

	if e.risk != nil {
		if violations := e.risk.Check(ctx, binding, req); len(violations) > 0 {
			if e.metrics != nil {
				for _, v := range violations {
					e.metrics.RiskViolations.WithLabelValues(v).Inc()
				}
				e.metrics.OrdersRejected.Inc()
			}
			return nil, gatewayerrors.NewRiskLimitExceeded(violations)
		}
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.NewString(),
		IdempotencyID: req.IdempotencyID,
		AccountID:     req.AccountID,
		BindingID:     req.BindingID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		PostOnly:      req.PostOnly,
		Status:        domain.OrderStatusPending,
		FilledQty:     decimal.Zero,
		AvgFillPrice:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.orders.Create(ctx, order); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindInternal, "persist pending order", err)
	}

	e.locks.Lock(lockKey(req.BindingID, ""))
	defer e.locks.Unlock(lockKey(req.BindingID, ""))

	adapter, err := e.adapterFor(ctx, binding)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The venue call may have landed before the deadline fired; leave
			// the row PENDING so a reconciler sweep (sync_orders) learns the
			// true outcome instead of durably mislabeling it REJECTED.
			return order, gatewayerrors.NewTimeout("connect")
		}
		e.markRejected(ctx, order, err)
		return order, gatewayerrors.NewVenueError("adapter connect failed", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	ack, err := adapter.PlaceOrder(dispatchCtx, venue.OrderRequest{
		Symbol: req.Symbol, Side: req.Side, Kind: req.Kind, Quantity: req.Quantity,
		LimitPrice: req.LimitPrice, StopPrice: req.StopPrice, TimeInForce: req.TimeInForce,
		ReduceOnly: req.ReduceOnly, PostOnly: req.PostOnly, ClientOrderID: order.ID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return order, gatewayerrors.NewTimeout("place_order")
		}
		e.markRejected(ctx, order, err)
		return order, gatewayerrors.NewVenueError("order placement failed", err)
	}

	order.VenueOrderID = ack.VenueOrderID
	order.Status = ack.Status
	order.FilledQty = ack.FilledQty
	order.AvgFillPrice = ack.AvgFillPrice
	placedAt := time.Now().UTC()
	order.PlacedAt = &placedAt
	order.UpdatedAt = placedAt
	if order.Status == domain.OrderStatusFilled {
		order.FilledAt = &placedAt
	}

	if err := e.orders.Update(ctx, order); err != nil {
		e.logger.Error(ctx, "failed to persist dispatched order", err, map[string]any{"order_id": order.ID})
	}

	if e.metrics != nil {
		e.metrics.OrdersSubmitted.Inc()
		if !order.Status.IsTerminal() {
			e.metrics.ActiveOrders.Inc()
		}
	}
	if e.notifier != nil {
		e.notifier.PublishOrderEvent(ctx, req.AccountID, order, "ORDER_PLACED")
	}

	return order, nil
}

func (e *Executor) markRejected(ctx context.Context, order *domain.Order, cause error) {
	order.Status = domain.OrderStatusRejected
	order.LastError = cause.Error()
	order.UpdatedAt = time.Now().UTC()
	if err := e.orders.Update(ctx, order); err != nil {
		e.logger.Error(ctx, "failed to persist rejected order", err, map[string]any{"order_id": order.ID})
	}
	if e.metrics != nil {
		e.metrics.OrdersRejected.Inc()
	}
}

// CancelOrder cancels a resting order by the gateway's internal ID.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, gatewayerrors.NewOrderNotFound(orderID)
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	binding, err := e.bindings.Get(ctx, order.BindingID)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindInternal, "load binding", err)
	}

	e.locks.Lock(lockKey(order.BindingID, order.VenueOrderID))
	defer e.locks.Unlock(lockKey(order.BindingID, order.VenueOrderID))

	adapter, err := e.adapterFor(ctx, binding)
	if err != nil {
		return nil, gatewayerrors.NewVenueError("adapter connect failed", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	res, err := adapter.CancelOrder(dispatchCtx, order.VenueOrderID)
	if err != nil {
		return nil, gatewayerrors.NewVenueError("cancel failed", err)
	}
	if res.Canceled {
		order.Status = domain.OrderStatusCanceled
		canceledAt := time.Now().UTC()
		order.CanceledAt = &canceledAt
		order.UpdatedAt = canceledAt
		if err := e.orders.Update(ctx, order); err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.KindInternal, "persist cancel", err)
		}
		if e.metrics != nil {
			e.metrics.OrdersCanceled.Inc()
		}
		if e.notifier != nil {
			e.notifier.PublishOrderEvent(ctx, order.AccountID, order, "ORDER_CANCELLED")
		}
	}
	return order, nil
}

// CancelAll cancels every resting order for a binding, optionally scoped
// to symbol. Failures on individual orders don't stop the sweep — the
// caller gets back every error alongside the orders it applies to.
func (e *Executor) CancelAll(ctx context.Context, bindingID, symbol string) ([]*domain.Order, []error) {
	statuses := []domain.OrderStatus{domain.OrderStatusNew, domain.OrderStatusPartiallyFilled, domain.OrderStatusPending}
	orders, err := e.orders.ListByBindingAndStatus(ctx, bindingID, statuses)
	if err != nil {
		return nil, []error{err}
	}

	var results []*domain.Order
	var errs []error
	for _, o := range orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		updated, err := e.CancelOrder(ctx, o.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", o.ID, err))
			continue
		}
		results = append(results, updated)
	}
	return results, errs
}

// ModifyOrder applies changes to a resting order. The caller's handle is
// the gateway's internal order ID (Open Question #1 resolution), which
// stays stable even when cancel-then-replace gives the order a new venue
// order ID underneath.
func (e *Executor) ModifyOrder(ctx context.Context, orderID string, changes venue.ModifyChanges) (*domain.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, gatewayerrors.NewOrderNotFound(orderID)
	}
	if order.Status.IsTerminal() {
		return nil, gatewayerrors.NewValidationFailed("cannot modify a terminal order")
	}

	binding, err := e.bindings.Get(ctx, order.BindingID)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindInternal, "load binding", err)
	}

	e.locks.Lock(lockKey(order.BindingID, order.VenueOrderID))
	defer e.locks.Unlock(lockKey(order.BindingID, order.VenueOrderID))

	adapter, err := e.adapterFor(ctx, binding)
	if err != nil {
		return nil, gatewayerrors.NewVenueError("adapter connect failed", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	ack, err := adapter.ModifyOrder(dispatchCtx, order.VenueOrderID, changes)
	if err != nil {
		return nil, gatewayerrors.NewVenueError("modify failed", err)
	}

	order.VenueOrderID = ack.VenueOrderID
	order.Status = ack.Status
	order.FilledQty = ack.FilledQty
	order.AvgFillPrice = ack.AvgFillPrice
	if changes.NewQuantity != nil {
		order.Quantity = *changes.NewQuantity
	}
	if changes.NewLimitPrice != nil {
		order.LimitPrice = changes.NewLimitPrice
	}
	order.UpdatedAt = time.Now().UTC()

	if err := e.orders.Update(ctx, order); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindInternal, "persist modify", err)
	}
	return order, nil
}

// SyncOrders reconciles the gateway's resting orders for a binding
// against the venue's authoritative open-order snapshot, since the venue
// adapter is authoritative over order state (spec §4.4).
func (e *Executor) SyncOrders(ctx context.Context, bindingID string) error {
	binding, err := e.bindings.Get(ctx, bindingID)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindInternal, "load binding", err)
	}
	adapter, err := e.adapterFor(ctx, binding)
	if err != nil {
		return gatewayerrors.NewVenueError("adapter connect failed", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()
	venueOrders, err := adapter.GetOpenOrders(dispatchCtx, "")
	if err != nil {
		return gatewayerrors.NewVenueError("sync_orders fetch failed", err)
	}
	byVenueID := make(map[string]venue.OrderSnapshot, len(venueOrders))
	for _, vo := range venueOrders {
		byVenueID[vo.VenueOrderID] = vo
	}

	local, err := e.orders.ListByBindingAndStatus(ctx, bindingID, []domain.OrderStatus{
		domain.OrderStatusNew, domain.OrderStatusPartiallyFilled,
	})
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindInternal, "list local orders", err)
	}

	for _, o := range local {
		vo, stillOpen := byVenueID[o.VenueOrderID]
		if !stillOpen {
			// The venue no longer reports this order resting, but that
			// doesn't mean it was canceled — it may have filled out-of-band
			// between polls. Ask the venue for its true terminal state
			// before forcing one locally.
			resolved, err := adapter.GetOrder(dispatchCtx, o.VenueOrderID)
			if err != nil {
				o.Status = domain.OrderStatusCanceled
				o.UpdatedAt = time.Now().UTC()
				if err := e.orders.Update(ctx, o); err != nil {
					e.logger.Error(ctx, "sync_orders: failed to close stale order", err, map[string]any{"order_id": o.ID})
				}
				continue
			}
			if o.Status.CanTransitionTo(resolved.Status) {
				o.Status = resolved.Status
			}
			o.FilledQty = resolved.FilledQty
			o.AvgFillPrice = resolved.AvgFillPrice
			o.UpdatedAt = time.Now().UTC()
			if err := e.orders.Update(ctx, o); err != nil {
				e.logger.Error(ctx, "sync_orders: failed to update resolved order", err, map[string]any{"order_id": o.ID})
			}
			continue
		}
		if o.Status.CanTransitionTo(vo.Status) {
			o.Status = vo.Status
		}
		o.FilledQty = vo.FilledQty
		o.AvgFillPrice = vo.AvgFillPrice
		o.UpdatedAt = time.Now().UTC()
		if err := e.orders.Update(ctx, o); err != nil {
			e.logger.Error(ctx, "sync_orders: failed to update order", err, map[string]any{"order_id": o.ID})
		}
	}
	return nil
}

func lockKey(bindingID, venueOrderID string) string {
	return bindingID + "|" + venueOrderID
}

// sufficientBalance runs the pre-trade margin check: required margin
// (notional / leverage) must not exceed the binding's available balance.
// Market orders carry no pre-trade price, so the check is a no-op until a
// limit price is known (the risk engine's exposure check still covers the
// fill once it lands).
func sufficientBalance(binding *domain.VenueBinding, req PlaceOrderRequest) (required, available decimal.Decimal, ok bool) {
	leverage := req.Leverage
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}
	price := decimal.Zero
	if req.LimitPrice != nil {
		price = *req.LimitPrice
	}
	notional := req.Quantity.Mul(price)
	required = decimal.Zero
	if leverage.IsPositive() {
		required = notional.Div(leverage)
	}
	available = binding.BalanceAvailable
	return required, available, required.LessThanOrEqual(available)
}

func validatePlaceOrderRequest(req PlaceOrderRequest) error {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return gatewayerrors.NewValidationFailed("quantity must be positive")
	}
	if req.Symbol == "" {
		return gatewayerrors.NewValidationFailed("symbol is required")
	}
	switch req.Kind {
	case domain.OrderKindLimit, domain.OrderKindStopLimit, domain.OrderKindTakeProfitLimit:
		if req.LimitPrice == nil || req.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return gatewayerrors.NewValidationFailed("limit price is required for this order kind")
		}
	}
	switch req.Kind {
	case domain.OrderKindStop, domain.OrderKindStopLimit, domain.OrderKindTakeProfit, domain.OrderKindTakeProfitLimit:
		if req.StopPrice == nil || req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return gatewayerrors.NewValidationFailed("stop price is required for this order kind")
		}
	}
	if req.PostOnly && req.TimeInForce == domain.TIFIOC {
		return gatewayerrors.NewValidationFailed("post_only is incompatible with IOC")
	}
	return nil
}

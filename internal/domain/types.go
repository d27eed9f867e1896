// Package domain holds the invariant-bearing entities of the trading
// control plane: accounts, venue bindings, orders, trades, positions, and
// position history. These are the domain entities in the wire-DTO /
// domain-entity / storage-row split (spec §9 redesign note) — the venue
// package holds wire DTOs, the store package holds storage rows.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueTag enumerates the venues the gateway can bind an account to.
type VenueTag string

const (
	VenueHyperliquid VenueTag = "hyperliquid"
	VenueLighter     VenueTag = "lighter"
	VenueExtended    VenueTag = "extended"
	VenueEdgeX       VenueTag = "edgex"
	VenueVest        VenueTag = "vest"
	VenueMock        VenueTag = "mock"
)

// OrderSide is the canonical order side.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind is the canonical order kind.
type OrderKind string

const (
	OrderKindMarket            OrderKind = "MARKET"
	OrderKindLimit             OrderKind = "LIMIT"
	OrderKindStop              OrderKind = "STOP"
	OrderKindStopLimit         OrderKind = "STOP_LIMIT"
	OrderKindTakeProfit        OrderKind = "TAKE_PROFIT"
	OrderKindTakeProfitLimit   OrderKind = "TAKE_PROFIT_LIMIT"
)

// TimeInForce is the canonical time-in-force.
type TimeInForce string

const (
	TIFGTC      TimeInForce = "GTC"
	TIFIOC      TimeInForce = "IOC"
	TIFFOK      TimeInForce = "FOK"
	TIFGTT      TimeInForce = "GTT"
	TIFPostOnly TimeInForce = "POST_ONLY"
)

// OrderStatus is the canonical order lifecycle status.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// orderStatusRank encodes the monotonic progression PENDING -> NEW ->
// {PARTIALLY_FILLED -> FILLED, CANCELED, REJECTED, EXPIRED}. Two statuses
// at the same rank (e.g. repeated PARTIALLY_FILLED updates as more fills
// arrive) are both allowed; CanTransitionTo additionally forbids leaving a
// terminal status.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:         0,
	OrderStatusNew:             1,
	OrderStatusPartiallyFilled: 2,
	OrderStatusFilled:          3,
	OrderStatusCanceled:        3,
	OrderStatusRejected:        3,
	OrderStatusExpired:         3,
}

// CanTransitionTo reports whether moving from s to next is a legal
// monotonic status transition per the Order invariants of spec §3.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	curRank, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	nextRank, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	if next == s {
		return true
	}
	return nextRank >= curRank
}

// PositionSide is the canonical position side.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// PositionStatus is the canonical position lifecycle status.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosing    PositionStatus = "CLOSING"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// Account is the user-level principal.
type Account struct {
	ID                 string
	DisplayName        string
	Email              string
	Active             bool
	PasswordHash       string
	MaxPositionSizeUSD decimal.Decimal
	MaxLeverage        decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// VenueBinding is one (account, venue, binding-name) credential set.
type VenueBinding struct {
	ID          string
	AccountID   string
	Venue       VenueTag
	Name        string
	Testnet     bool
	Active      bool
	APIKeyEnc   []byte
	APISecretEnc []byte
	PrivateKeyEnc []byte
	WalletAddress string // optional
	VaultIndex    *int   // optional
	RequestsPerMinute int

	// Cached balances, refreshed by reconciliation.
	BalanceTotal        decimal.Decimal
	BalanceAvailable    decimal.Decimal
	BalanceMargin       decimal.Decimal
	BalanceUnrealizedPnL decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order is the gateway's canonical order record.
type Order struct {
	ID             string
	VenueOrderID   string // assigned after dispatch
	IdempotencyID  string // optional, unique when present
	AccountID      string
	BindingID      string
	Symbol         string
	Side           OrderSide
	Kind           OrderKind
	Quantity       decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	TimeInForce    TimeInForce
	ReduceOnly     bool
	PostOnly       bool
	Isolated       bool
	Status         OrderStatus
	FilledQty      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	FeeAccumulated decimal.Decimal
	FeeAsset       string
	RetryCount     int
	LastError      string

	PlacedAt   *time.Time
	FilledAt   *time.Time
	CanceledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the Order invariants of spec §3/§8 that don't require a
// comparison against a prior version of the row.
func (o *Order) Validate() error {
	if o.FilledQty.GreaterThan(o.Quantity) {
		return errInvariant("filled quantity exceeds order quantity")
	}
	if o.FilledQty.IsNegative() {
		return errInvariant("filled quantity is negative")
	}
	return nil
}

// Trade is an individual fill against an Order.
type Trade struct {
	ID             string
	OrderID        string
	VenueTradeID   string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Maker          bool
	Fee            decimal.Decimal
	FeeAsset       string
	RealizedPnL    *decimal.Decimal
	ExecutedAt     time.Time
}

// Position is the aggregate net exposure for one (binding, symbol).
type Position struct {
	ID              string
	BindingID       string
	Symbol          string
	Side            PositionSide
	Quantity        decimal.Decimal
	InitialQuantity decimal.Decimal
	EntryPrice      decimal.Decimal
	MarkPrice       decimal.Decimal
	LiquidationPrice *decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	RealizedPnL     decimal.Decimal
	Margin          decimal.Decimal
	MarginRatio     decimal.Decimal
	Leverage        decimal.Decimal
	Isolated        bool
	StopLossPrice   *decimal.Decimal
	StopLossOrderID string
	TakeProfitPrice *decimal.Decimal
	TakeProfitOrderID string
	Status          PositionStatus

	OpenedAt   time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time
}

// PositionHistory is an append-only snapshot taken on every mutation.
type PositionHistory struct {
	ID            string
	PositionID    string
	Quantity      decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Margin        decimal.Decimal
	Delta         decimal.Decimal
	RecordedAt    time.Time
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }

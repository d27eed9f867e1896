// Package venue defines the polymorphic contract every supported
// perpetual-futures venue implements, plus the wire-level DTOs that cross
// that boundary. Venue-specific behavior is expressed as distinct types
// implementing Adapter (internal/venue/hyperliquid, /lighter, /extended,
// /edgex, /vest, /mock) rather than through inheritance or a shared base
// class — each adapter embeds *Base for the genuinely shared scaffolding
// (rate limiting, symbol mapping, stats) and otherwise stands alone.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
)

// Credentials bundles the decrypted secrets an adapter needs to
// authenticate. The executor decrypts a VenueBinding's ciphertext fields
// through the vault immediately before constructing an adapter call and
// never persists the decrypted form.
type Credentials struct {
	APIKey        string
	APISecret     string
	PrivateKeyHex string // wallet-signing venues (hyperliquid, lighter, extended)
	WalletAddress string
	Testnet       bool
}

// OrderRequest is the venue-agnostic order placement request.
type OrderRequest struct {
	Symbol      string
	Side        domain.OrderSide
	Kind        domain.OrderKind
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce domain.TimeInForce
	ReduceOnly  bool
	PostOnly    bool
	ClientOrderID string
}

// OrderAck is the venue's synchronous response to order placement.
type OrderAck struct {
	VenueOrderID string
	Status       domain.OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	RawStatus    string // venue-native status text, for diagnostics only
}

// CancelResult is the venue's response to a cancel request.
type CancelResult struct {
	VenueOrderID string
	Canceled     bool
	AlreadyTerminal bool // true if the venue reports the order was already filled/canceled
}

// ModifyChanges describes a requested in-place change. Venues that don't
// support native modification are driven by the adapter itself via
// cancel-then-replace (see Base.CancelThenReplace); this struct is the
// common request shape for both paths.
type ModifyChanges struct {
	NewQuantity   *decimal.Decimal
	NewLimitPrice *decimal.Decimal
	NewStopPrice  *decimal.Decimal
}

// Balance is one asset balance line in an account snapshot.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Margin    decimal.Decimal
}

// AccountInfo is the venue's account-level snapshot.
type AccountInfo struct {
	Balances          []Balance
	UnrealizedPnL     decimal.Decimal
	MaintenanceMargin decimal.Decimal
}

// PositionSnapshot is the venue's authoritative view of one open position,
// used by sync_positions reconciliation.
type PositionSnapshot struct {
	Symbol           string
	Side             domain.PositionSide
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice *decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Margin           decimal.Decimal
	Leverage         decimal.Decimal
}

// OrderSnapshot is the venue's authoritative view of one order, used by
// sync_orders reconciliation.
type OrderSnapshot struct {
	VenueOrderID string
	ClientOrderID string
	Symbol       string
	Status       domain.OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// MarketData is a point-in-time quote for a symbol.
type MarketData struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	MarkPrice decimal.Decimal
	LastPrice decimal.Decimal
	Timestamp time.Time
}

// OrderBookLevel is one price/size pair in an order book snapshot.
type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a depth snapshot for a symbol.
type OrderBook struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// VenueTrade is an individual trade print from a venue's public tape.
type VenueTrade struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Side      domain.OrderSide
	Timestamp time.Time
}

// OrderFilters narrows a GetOrders query. A zero-valued field imposes no
// filter on that dimension. Limit <= 0 means the venue's default page
// size.
type OrderFilters struct {
	Symbol string
	Status domain.OrderStatus
	Limit  int
}

// FundingRate is a venue's current perpetual funding rate for a symbol.
type FundingRate struct {
	Symbol      string
	Rate        decimal.Decimal
	NextFunding time.Time
}

// UpdateKind discriminates the variants carried by a streamed Update.
type UpdateKind string

const (
	UpdateKindOrder    UpdateKind = "ORDER"
	UpdateKindPosition UpdateKind = "POSITION"
	UpdateKindBalance  UpdateKind = "BALANCE"
)

// Update is a single item from an adapter's streaming feed. Exactly one of
// Order, Position, Balance is populated, matching Kind.
type Update struct {
	Kind     UpdateKind
	Order    *OrderSnapshot
	Position *PositionSnapshot
	Balance  *Balance
}

// Adapter is the contract every venue integration implements. All methods
// take a context and must respect its deadline; the executor applies a
// default 30s deadline (spec §5) to every call when the
// caller hasn't already set a tighter one.
type Adapter interface {
	// Venue identifies which venue this adapter instance talks to.
	Venue() domain.VenueTag

	// Connect authenticates and prepares the adapter for use. Called once
	// per binding before any other method.
	Connect(ctx context.Context, creds Credentials) error

	// PlaceOrder submits a new order and returns the venue's ack.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// CancelOrder cancels a resting order by venue order ID.
	CancelOrder(ctx context.Context, venueOrderID string) (CancelResult, error)

	// CancelAll cancels every resting order, optionally scoped to symbol
	// (empty string means all symbols).
	CancelAll(ctx context.Context, symbol string) ([]CancelResult, error)

	// ModifyOrder applies changes to a resting order. Adapters that lack
	// native modification implement this via cancel-then-replace
	// (Base.CancelThenReplace) and return the new venue order ID in the
	// ack; callers must not assume the venue order ID is unchanged.
	ModifyOrder(ctx context.Context, venueOrderID string, changes ModifyChanges) (OrderAck, error)

	// GetAccountInfo returns the venue's current account snapshot.
	GetAccountInfo(ctx context.Context) (AccountInfo, error)

	// GetPositions returns the venue's authoritative open positions,
	// optionally scoped to symbol (empty string means all symbols).
	GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)

	// GetOpenOrders returns the venue's authoritative resting orders,
	// optionally scoped to symbol (empty string means all symbols).
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderSnapshot, error)

	// GetOrder returns the venue's authoritative view of a single order by
	// venue order ID, including terminal orders the venue still retains.
	// Used by reconciliation to learn an order's true outcome instead of
	// guessing it from an open-orders snapshot it has dropped out of.
	GetOrder(ctx context.Context, venueOrderID string) (OrderSnapshot, error)

	// GetOrders returns orders matching filters, terminal or resting,
	// newest first where the venue preserves ordering.
	GetOrders(ctx context.Context, filters OrderFilters) ([]OrderSnapshot, error)

	// SetLeverage sets the account's leverage for symbol. Venues that
	// apply leverage per-position rather than per-account-per-symbol
	// still honor this as the leverage used by the next order on symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// ClosePosition closes the open position on symbol with a reduce-only
	// market order. A nil quantity closes the position in full; a
	// non-nil quantity closes only that much.
	ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) (OrderAck, error)

	// GetBalance returns the account's balance lines, optionally scoped
	// to one asset (empty string means every asset the venue reports).
	GetBalance(ctx context.Context, asset string) ([]Balance, error)

	// GetRecentTrades returns the most recent public trade prints for
	// symbol, at most limit entries (0 means the venue's default).
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]VenueTrade, error)

	// GetMarketData returns a point-in-time quote for symbol.
	GetMarketData(ctx context.Context, symbol string) (MarketData, error)

	// GetOrderBook returns a depth snapshot for symbol, at most depth
	// levels per side (0 means the venue's default depth).
	GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)

	// GetFundingRate returns the current funding rate for symbol.
	GetFundingRate(ctx context.Context, symbol string) (FundingRate, error)

	// Stream opens a streaming feed of order/position/balance updates.
	// The returned channel is closed when ctx is canceled or the
	// connection is irrecoverably lost; the caller reconnects by calling
	// Stream again.
	Stream(ctx context.Context) (<-chan Update, error)

	// Unsubscribe stops a previously opened Stream from delivering the
	// named channels (e.g. "orders", "positions"). Adapters whose Stream
	// carries everything in one feed may treat this as a no-op once the
	// last channel is unsubscribed and close the feed instead.
	Unsubscribe(ctx context.Context, channels []string) error

	// Disconnect releases the adapter's connection/session state. After
	// Disconnect returns, the adapter must be reconnected via Connect
	// before any other method is called.
	Disconnect(ctx context.Context) error

	// NormalizeSymbol converts the venue's native symbol into the
	// canonical "BASE-PERP" symbol (spec §2); DenormalizeSymbol does the
	// reverse.
	NormalizeSymbol(native string) (canonical string, err error)
	DenormalizeSymbol(canonical string) (native string, err error)
}

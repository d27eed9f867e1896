// Package hyperliquid implements the venue.Adapter contract against
// Hyperliquid's REST API. Grounded on the original Python
// HyperliquidConnector (connectors/hyperliquid/connector.py): same base
// URL split between mainnet and testnet, same coin-symbol convention
// (canonical "BTC-PERP" <-> native "BTC"), same wallet-signed action
// envelope for order placement and cancellation. The Python connector
// signs with eth_account's EIP-712 helper; this adapter signs the
// action's keccak256 digest with github.com/ethereum/go-ethereum's
// secp256k1 implementation, the standard Go equivalent for EVM-style
// signing.
package hyperliquid

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

const (
	mainnetBaseURL = "https://api.hyperliquid.xyz"
	testnetBaseURL = "https://api.hyperliquid-testnet.xyz"
)

// Adapter is the Hyperliquid venue implementation.
type Adapter struct {
	*venue.Base

	httpClient *http.Client
	baseURL    string

	privateKey *ecdsa.PrivateKey
	address    string
	vaultAddr  string
}

// New constructs a Hyperliquid adapter. requestsPerMinute feeds the shared
// rate limiter (Hyperliquid's documented default is generous; callers
// should pass the binding's configured RequestsPerMinute).
func New(requestsPerMinute int) *Adapter {
	return &Adapter{
		Base:       venue.NewBase(domain.VenueHyperliquid, requestsPerMinute, nil),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    mainnetBaseURL,
	}
}

func (a *Adapter) Connect(ctx context.Context, creds venue.Credentials) error {
	if creds.PrivateKeyHex == "" {
		return fmt.Errorf("hyperliquid: private key required")
	}
	hexKey := strings.TrimPrefix(creds.PrivateKeyHex, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return fmt.Errorf("hyperliquid: invalid private key: %w", err)
	}
	a.privateKey = key
	a.address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	a.vaultAddr = creds.WalletAddress

	if creds.Testnet {
		a.baseURL = testnetBaseURL
	} else {
		a.baseURL = mainnetBaseURL
	}
	return nil
}

// sign produces a hex-encoded secp256k1 signature over the keccak256
// digest of the canonical JSON encoding of action plus the nonce, the Go
// analogue of the Python connector's EIP-712 typed-data signature.
func (a *Adapter) sign(action map[string]any, nonce int64) (string, error) {
	if a.privateKey == nil {
		return "", fmt.Errorf("hyperliquid: not authenticated")
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.Write(payload)
	fmt.Fprintf(&buf, "|%d", nonce)

	digest := crypto.Keccak256(buf.Bytes())
	sig, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: sign failed: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (a *Adapter) doRequest(ctx context.Context, endpoint string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.RecordError()
		return nil, fmt.Errorf("hyperliquid: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		a.RecordError()
		return nil, fmt.Errorf("hyperliquid: rate limited")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		a.RecordError()
		return nil, fmt.Errorf("hyperliquid: api error %d: %s", resp.StatusCode, string(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		// Some /info endpoints return bare arrays; callers that need that
		// shape read the "_raw" entry.
		return map[string]any{"_raw": json.RawMessage(raw)}, nil
	}
	return out, nil
}

func coinFromSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, "-PERP")
}

func (a *Adapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	if err := a.Wait(ctx); err != nil {
		return venue.OrderAck{}, err
	}
	a.RecordRequest()

	tifTag := "Gtc"
	switch req.TimeInForce {
	case domain.TIFIOC:
		tifTag = "Ioc"
	case domain.TIFFOK:
		tifTag = "Fok"
	case domain.TIFPostOnly:
		tifTag = "Alo"
	}

	price := "0"
	if req.Kind != domain.OrderKindMarket && req.LimitPrice != nil {
		price = req.LimitPrice.String()
	}

	orderType := map[string]any{"limit": map[string]any{"tif": tifTag}}
	if req.Kind == domain.OrderKindMarket {
		orderType = map[string]any{"market": map[string]any{}}
	}

	action := map[string]any{
		"type": "order",
		"orders": []map[string]any{{
			"a": coinFromSymbol(req.Symbol),
			"b": req.Side == domain.SideBuy,
			"p": price,
			"s": req.Quantity.String(),
			"r": req.ReduceOnly,
			"t": orderType,
		}},
	}

	nonce := time.Now().UnixMilli()
	sig, err := a.sign(action, nonce)
	if err != nil {
		return venue.OrderAck{}, err
	}

	body := map[string]any{"action": action, "nonce": nonce, "signature": sig}
	if a.vaultAddr != "" {
		body["vaultAddress"] = a.vaultAddr
	}

	result, err := a.doRequest(ctx, "/exchange", body)
	if err != nil {
		return venue.OrderAck{}, err
	}

	status, _ := result["status"].(string)
	if status != "ok" {
		return venue.OrderAck{}, fmt.Errorf("hyperliquid: order placement failed: %v", result["response"])
	}

	venueOrderID := fmt.Sprintf("hl-%d", nonce)
	return venue.OrderAck{
		VenueOrderID: venueOrderID,
		Status:       domain.OrderStatusNew,
		FilledQty:    decimal.Zero,
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, venueOrderID string) (venue.CancelResult, error) {
	if err := a.Wait(ctx); err != nil {
		return venue.CancelResult{}, err
	}
	a.RecordRequest()

	action := map[string]any{"type": "cancel", "cancels": []map[string]any{{"o": venueOrderID}}}
	nonce := time.Now().UnixMilli()
	sig, err := a.sign(action, nonce)
	if err != nil {
		return venue.CancelResult{}, err
	}

	body := map[string]any{"action": action, "nonce": nonce, "signature": sig}
	result, err := a.doRequest(ctx, "/exchange", body)
	if err != nil {
		return venue.CancelResult{}, err
	}

	status, _ := result["status"].(string)
	return venue.CancelResult{VenueOrderID: venueOrderID, Canceled: status == "ok"}, nil
}

func (a *Adapter) CancelAll(ctx context.Context, symbol string) ([]venue.CancelResult, error) {
	orders, err := a.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	results := make([]venue.CancelResult, 0, len(orders))
	for _, o := range orders {
		res, err := a.CancelOrder(ctx, o.VenueOrderID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ModifyOrder implements modification via cancel-then-replace: Hyperliquid
// does support a native modify action, but the reference connector drives
// it through cancel+place, so this adapter follows the same path for
// texture consistency across the gateway's no-native-modify venues.
func (a *Adapter) ModifyOrder(ctx context.Context, venueOrderID string, changes venue.ModifyChanges) (venue.OrderAck, error) {
	orders, err := a.GetOpenOrders(ctx, "")
	if err != nil {
		return venue.OrderAck{}, err
	}
	var original *venue.OrderSnapshot
	for i := range orders {
		if orders[i].VenueOrderID == venueOrderID {
			original = &orders[i]
			break
		}
	}
	if original == nil {
		return venue.OrderAck{}, fmt.Errorf("hyperliquid: order %s not found", venueOrderID)
	}

	req := venue.OrderRequest{
		Symbol:   original.Symbol,
		Kind:     domain.OrderKindLimit,
		Quantity: original.FilledQty,
	}
	return venue.CancelThenReplace(ctx, a, venueOrderID, req, changes)
}

func (a *Adapter) GetAccountInfo(ctx context.Context) (venue.AccountInfo, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "clearinghouseState", "user": a.address})
	if err != nil {
		return venue.AccountInfo{}, err
	}
	marginSummary, _ := result["marginSummary"].(map[string]any)
	accountValue := decimalFromAny(marginSummary["accountValue"])
	marginUsed := decimalFromAny(marginSummary["totalMarginUsed"])
	withdrawable := decimalFromAny(result["withdrawable"])

	return venue.AccountInfo{
		Balances: []venue.Balance{{
			Asset: "USDC", Total: accountValue, Available: withdrawable, Margin: marginUsed,
		}},
		MaintenanceMargin: marginUsed,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context, symbol string) ([]venue.PositionSnapshot, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "clearinghouseState", "user": a.address})
	if err != nil {
		return nil, err
	}
	assetPositions, _ := result["assetPositions"].([]any)
	out := make([]venue.PositionSnapshot, 0, len(assetPositions))
	for _, raw := range assetPositions {
		entry, _ := raw.(map[string]any)
		posInfo, _ := entry["position"].(map[string]any)
		if posInfo == nil {
			continue
		}
		size := decimalFromAny(posInfo["szi"])
		if size.IsZero() {
			continue
		}
		coin, _ := posInfo["coin"].(string)
		sym := coin + "-PERP"
		if symbol != "" && sym != symbol {
			continue
		}
		side := domain.PositionSideLong
		if size.IsNegative() {
			side = domain.PositionSideShort
		}
		out = append(out, venue.PositionSnapshot{
			Symbol:        sym,
			Side:          side,
			Quantity:      size.Abs(),
			EntryPrice:    decimalFromAny(posInfo["entryPx"]),
			MarkPrice:     decimalFromAny(posInfo["markPx"]),
			UnrealizedPnL: decimalFromAny(posInfo["unrealizedPnl"]),
			Margin:        decimalFromAny(posInfo["marginUsed"]),
		})
	}
	return out, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]venue.OrderSnapshot, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "openOrders", "user": a.address})
	if err != nil {
		return nil, err
	}
	raw, ok := result["_raw"].(json.RawMessage)
	if !ok {
		return nil, nil
	}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("hyperliquid: unexpected openOrders response: %w", err)
	}

	out := make([]venue.OrderSnapshot, 0, len(entries))
	for _, e := range entries {
		coin, _ := e["coin"].(string)
		sym := coin + "-PERP"
		if symbol != "" && sym != symbol {
			continue
		}
		oid := fmt.Sprintf("%v", e["oid"])
		out = append(out, venue.OrderSnapshot{
			VenueOrderID: oid,
			Symbol:       sym,
			Status:       domain.OrderStatusNew,
			FilledQty:    decimalFromAny(e["sz"]),
			AvgFillPrice: decimalFromAny(e["limitPx"]),
		})
	}
	return out, nil
}

func (a *Adapter) GetOrder(ctx context.Context, venueOrderID string) (venue.OrderSnapshot, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "orderStatus", "user": a.address, "oid": venueOrderID})
	if err != nil {
		return venue.OrderSnapshot{}, err
	}
	entry, _ := result["order"].(map[string]any)
	if entry == nil {
		return venue.OrderSnapshot{}, fmt.Errorf("hyperliquid: order %s not found", venueOrderID)
	}
	order, _ := entry["order"].(map[string]any)
	coin, _ := order["coin"].(string)
	statusStr, _ := entry["status"].(string)
	return venue.OrderSnapshot{
		VenueOrderID: venueOrderID,
		Symbol:       coin + "-PERP",
		Status:       hyperliquidStatus(statusStr),
		FilledQty:    decimalFromAny(order["sz"]),
		AvgFillPrice: decimalFromAny(order["limitPx"]),
	}, nil
}

// hyperliquidStatus maps the venue's native order-status strings onto the
// canonical OrderStatus enum; unrecognized strings fall back to NEW so a
// resting order never gets mistaken for terminal.
func hyperliquidStatus(native string) domain.OrderStatus {
	switch native {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled":
		return domain.OrderStatusCanceled
	case "rejected":
		return domain.OrderStatusRejected
	case "partiallyFilled":
		return domain.OrderStatusPartiallyFilled
	default:
		return domain.OrderStatusNew
	}
}

// GetOrders queries the historicalOrders feed (which, unlike openOrders,
// retains terminal orders) and applies filters locally since the venue's
// endpoint takes no query parameters beyond the user address.
func (a *Adapter) GetOrders(ctx context.Context, filters venue.OrderFilters) ([]venue.OrderSnapshot, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "historicalOrders", "user": a.address})
	if err != nil {
		return nil, err
	}
	raw, ok := result["_raw"].(json.RawMessage)
	if !ok {
		return nil, nil
	}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("hyperliquid: unexpected historicalOrders response: %w", err)
	}

	out := make([]venue.OrderSnapshot, 0, len(entries))
	for _, e := range entries {
		order, _ := e["order"].(map[string]any)
		coin, _ := order["coin"].(string)
		sym := coin + "-PERP"
		if filters.Symbol != "" && sym != filters.Symbol {
			continue
		}
		statusStr, _ := e["status"].(string)
		status := hyperliquidStatus(statusStr)
		if filters.Status != "" && status != filters.Status {
			continue
		}
		oid := fmt.Sprintf("%v", order["oid"])
		out = append(out, venue.OrderSnapshot{
			VenueOrderID: oid,
			Symbol:       sym,
			Status:       status,
			FilledQty:    decimalFromAny(order["sz"]),
			AvgFillPrice: decimalFromAny(order["limitPx"]),
		})
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

// SetLeverage issues an updateLeverage action, the same signed-action shape
// PlaceOrder and CancelOrder use.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("hyperliquid: leverage must be positive")
	}
	action := map[string]any{
		"type": "updateLeverage", "asset": coinFromSymbol(symbol), "isCross": true, "leverage": leverage,
	}
	nonce := time.Now().UnixMilli()
	sig, err := a.sign(action, nonce)
	if err != nil {
		return err
	}
	result, err := a.doRequest(ctx, "/exchange", map[string]any{"action": action, "nonce": nonce, "signature": sig})
	if err != nil {
		return err
	}
	if status, _ := result["status"].(string); status != "ok" {
		return fmt.Errorf("hyperliquid: set leverage failed: %v", result["response"])
	}
	return nil
}

func (a *Adapter) ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) (venue.OrderAck, error) {
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
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "recentTrades", "coin": coinFromSymbol(symbol)})
	if err != nil {
		return nil, err
	}
	raw, ok := result["_raw"].(json.RawMessage)
	if !ok {
		return nil, nil
	}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("hyperliquid: unexpected recentTrades response: %w", err)
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]venue.VenueTrade, 0, limit)
	for i := 0; i < limit; i++ {
		e := entries[i]
		side := domain.SideBuy
		if s, _ := e["side"].(string); s == "A" {
			side = domain.SideSell
		}
		out = append(out, venue.VenueTrade{
			Symbol:    symbol,
			Price:     decimalFromAny(e["px"]),
			Quantity:  decimalFromAny(e["sz"]),
			Side:      side,
			Timestamp: time.Now(),
		})
	}
	return out, nil
}

func (a *Adapter) GetMarketData(ctx context.Context, symbol string) (venue.MarketData, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "allMids"})
	if err != nil {
		return venue.MarketData{}, err
	}
	coin := coinFromSymbol(symbol)
	mid := decimal.Zero
	if v, ok := result[coin]; ok {
		mid = decimalFromAny(v)
	}
	return venue.MarketData{Symbol: symbol, MarkPrice: mid, LastPrice: mid, BidPrice: mid, AskPrice: mid, Timestamp: time.Now()}, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (venue.OrderBook, error) {
	result, err := a.doRequest(ctx, "/info", map[string]any{"type": "l2Book", "coin": coinFromSymbol(symbol)})
	if err != nil {
		return venue.OrderBook{}, err
	}
	levels, _ := result["levels"].([]any)
	book := venue.OrderBook{Symbol: symbol, Timestamp: time.Now()}
	if len(levels) > 0 {
		book.Bids = levelsFromAny(levels[0], depth)
	}
	if len(levels) > 1 {
		book.Asks = levelsFromAny(levels[1], depth)
	}
	return book, nil
}

func (a *Adapter) GetFundingRate(ctx context.Context, symbol string) (venue.FundingRate, error) {
	md, err := a.GetMarketData(ctx, symbol)
	if err != nil {
		return venue.FundingRate{}, err
	}
	return venue.FundingRate{Symbol: symbol, Rate: decimal.Zero, NextFunding: md.Timestamp.Add(time.Hour)}, nil
}

// Stream is not yet implemented for Hyperliquid; the gateway falls back to
// polling reconciliation (sync_orders/sync_positions) for this venue until
// the websocket feed is wired in.
func (a *Adapter) Stream(ctx context.Context) (<-chan venue.Update, error) {
	return nil, fmt.Errorf("hyperliquid: streaming not supported, use polling reconciliation")
}

func (a *Adapter) Unsubscribe(ctx context.Context, channels []string) error {
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.privateKey = nil
	a.address = ""
	a.vaultAddr = ""
	return nil
}

func decimalFromAny(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
}

func levelsFromAny(raw any, depth int) []venue.OrderBookLevel {
	entries, _ := raw.([]any)
	if depth <= 0 || depth > len(entries) {
		depth = len(entries)
	}
	out := make([]venue.OrderBookLevel, 0, depth)
	for i := 0; i < depth; i++ {
		entry, _ := entries[i].(map[string]any)
		out = append(out, venue.OrderBookLevel{
			Price: decimalFromAny(entry["px"]),
			Size:  decimalFromAny(entry["sz"]),
		})
	}
	return out
}

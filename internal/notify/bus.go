// Package notify implements the Notification Bus: typed events with
// priority filtering, fanned out to in-process subscribers and durable to
// a bounded per-account ring buffer. Built around a subscriber-channel
// map and severity levels, with an unbounded history slice replaced by a
// fixed-capacity per-account ring buffer with drop-oldest backpressure,
// and a pluggable email/webhook/Slack/Telegram AlertChannel layer left
// out entirely — this gateway has exactly one channel (in-process
// subscribers) plus optional cross-instance fanout over internal/cache's
// Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
)

// EventType enumerates the typed events the bus carries, per spec §4.6.
type EventType string

const (
	EventOrderFilled           EventType = "ORDER_FILLED"
	EventOrderPartiallyFilled  EventType = "ORDER_PARTIALLY_FILLED"
	EventOrderCancelled        EventType = "ORDER_CANCELLED"
	EventOrderRejected         EventType = "ORDER_REJECTED"
	EventPositionOpened        EventType = "POSITION_OPENED"
	EventPositionClosed        EventType = "POSITION_CLOSED"
	EventPositionLiquidated    EventType = "POSITION_LIQUIDATED"
	EventRiskAlert             EventType = "RISK_ALERT"
	EventMarginCall            EventType = "MARGIN_CALL"
	EventPriceAlert            EventType = "PRICE_ALERT"
	EventSystemAlert           EventType = "SYSTEM_ALERT"
)

// Priority is the event's delivery priority, per spec §4.6.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var priorityRank = map[Priority]int{
	PriorityLow: 0, PriorityMedium: 1, PriorityHigh: 2, PriorityCritical: 3,
}

func (p Priority) atLeast(min Priority) bool {
	return priorityRank[p] >= priorityRank[min]
}

// Event is one notification, carrying a monotonic bus-wide id.
type Event struct {
	ID        uint64
	AccountID string
	Type      EventType
	Priority  Priority
	Title     string
	Message   string
	Data      map[string]any
	Timestamp time.Time
}

// ringBuffer is a fixed-capacity, drop-oldest event buffer for one
// account.
type ringBuffer struct {
	events []Event
	cap    int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ringBuffer{cap: capacity}
}

func (b *ringBuffer) push(e Event) (dropped bool) {
	b.events = append(b.events, e)
	if len(b.events) > b.cap {
		b.events = b.events[len(b.events)-b.cap:]
		return true
	}
	return false
}

// fanOutPublisher is the narrow slice of internal/cache the bus uses for
// cross-instance delivery. Accepting an interface here (rather than the
// concrete *cache.Client) keeps notify buildable and testable without a
// live Redis connection.
type fanOutPublisher interface {
	PublishNotification(ctx context.Context, accountID string, payload []byte) error
}

// Bus is the Notification Bus. Construct with New and share it; safe for
// concurrent use.
type Bus struct {
	mu            sync.RWMutex
	buffers       map[string]*ringBuffer
	subscribers   map[string][]*subscription
	preferences   map[string]map[EventType]bool // accountID -> type -> enabled; absent == enabled
	bufferCap     int
	seq           uint64
	fanOut        fanOutPublisher
	logger        *observability.Logger
	metrics       *observability.Metrics
}

type subscription struct {
	id          uint64
	minPriority Priority
	ch          chan Event
}

// New constructs a Bus with the given per-account ring buffer capacity
// (spec §4.6 default: 1000). fanOut may be nil to run single-instance
// with no cross-process delivery.
func New(bufferCap int, fanOut fanOutPublisher, logger *observability.Logger, metrics *observability.Metrics) *Bus {
	if bufferCap <= 0 {
		bufferCap = 1000
	}
	return &Bus{
		buffers:     make(map[string]*ringBuffer),
		subscribers: make(map[string][]*subscription),
		preferences: make(map[string]map[EventType]bool),
		bufferCap:   bufferCap,
		fanOut:      fanOut,
		logger:      logger,
		metrics:     metrics,
	}
}

// SetPreference gates delivery of one event type for one account. A type
// with no recorded preference is delivered by default.
func (b *Bus) SetPreference(accountID string, eventType EventType, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.preferences[accountID] == nil {
		b.preferences[accountID] = make(map[EventType]bool)
	}
	b.preferences[accountID][eventType] = enabled
}

func (b *Bus) enabled(accountID string, eventType EventType) bool {
	prefs, ok := b.preferences[accountID]
	if !ok {
		return true
	}
	enabled, set := prefs[eventType]
	if !set {
		return true
	}
	return enabled
}

// Publish delivers an event: appends it to the account's ring buffer
// (dropping the oldest entry if full), fans it out to every subscriber
// whose minimum priority it meets, and — if a fanOutPublisher is
// configured — publishes it to the cross-instance channel too. Delivery
// is best-effort; a blocked subscriber channel is skipped rather than
// blocking the publisher (spec §4.6: "best-effort in memory").
func (b *Bus) Publish(ctx context.Context, accountID string, eventType EventType, priority Priority, title, message string, data map[string]any) Event {
	id := atomic.AddUint64(&b.seq, 1)
	event := Event{
		ID: id, AccountID: accountID, Type: eventType, Priority: priority,
		Title: title, Message: message, Data: data, Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	if !b.enabled(accountID, eventType) {
		b.mu.Unlock()
		return event
	}
	buf, ok := b.buffers[accountID]
	if !ok {
		buf = newRingBuffer(b.bufferCap)
		b.buffers[accountID] = buf
	}
	dropped := buf.push(event)
	subs := append([]*subscription(nil), b.subscribers[accountID]...)
	b.mu.Unlock()

	if dropped && b.metrics != nil {
		b.metrics.NotificationDrop.Inc()
	}

	for _, sub := range subs {
		if !event.Priority.atLeast(sub.minPriority) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if b.metrics != nil {
				b.metrics.NotificationDrop.Inc()
			}
		}
	}

	if b.fanOut != nil {
		if payload, err := json.Marshal(event); err == nil {
			if err := b.fanOut.PublishNotification(ctx, accountID, payload); err != nil && b.logger != nil {
				b.logger.Warn(ctx, "notify: fan-out publish failed", map[string]any{"account_id": accountID, "error": err.Error()})
			}
		}
	}

	return event
}

// PublishAlert satisfies internal/risk's AlertPublisher interface.
func (b *Bus) PublishAlert(ctx context.Context, accountID, kind, priority, title, message string, data map[string]any) {
	b.Publish(ctx, accountID, EventType(kind), Priority(priority), title, message, data)
}

// PublishOrderEvent satisfies internal/executor's Notifier interface,
// translating an order lifecycle transition into a typed event with the
// priority a trader would expect (resting acks are MEDIUM, terminal
// fills and rejections are HIGH).
func (b *Bus) PublishOrderEvent(ctx context.Context, accountID string, order *domain.Order, eventKind string) {
	var eventType EventType
	priority := PriorityMedium
	switch order.Status {
	case domain.OrderStatusFilled:
		eventType, priority = EventOrderFilled, PriorityHigh
	case domain.OrderStatusPartiallyFilled:
		eventType, priority = EventOrderPartiallyFilled, PriorityMedium
	case domain.OrderStatusCanceled:
		eventType, priority = EventOrderCancelled, PriorityMedium
	case domain.OrderStatusRejected:
		eventType, priority = EventOrderRejected, PriorityHigh
	default:
		eventType = EventType(eventKind)
	}
	b.Publish(ctx, accountID, eventType, priority,
		"order update",
		order.Symbol+" "+string(order.Status),
		map[string]any{"order_id": order.ID, "venue_order_id": order.VenueOrderID, "status": string(order.Status)})
}

// Subscribe returns a channel delivering every future event for
// accountID at or above minPriority, and an unsubscribe function the
// caller must call when done. The channel has a small buffer; a slow
// consumer misses events rather than stalling the publisher.
func (b *Bus) Subscribe(accountID string, minPriority Priority) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{id: atomic.AddUint64(&b.seq, 0) + 1, minPriority: minPriority, ch: make(chan Event, 32)}
	b.subscribers[accountID] = append(b.subscribers[accountID], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[accountID]
		for i, s := range subs {
			if s == sub {
				b.subscribers[accountID] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// History returns the ring-buffered events for an account, oldest first.
func (b *Bus) History(accountID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf, ok := b.buffers[accountID]
	if !ok {
		return nil
	}
	out := make([]Event, len(buf.events))
	copy(out, buf.events)
	return out
}

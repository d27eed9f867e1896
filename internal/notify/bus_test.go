package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
)

func TestPublishDeliversToMatchingPrioritySubscriber(t *testing.T) {
	bus := New(10, nil, observability.NewLogger("notify-test", "error", "text"), observability.NewMetrics())
	ch, unsubscribe := bus.Subscribe("acct-1", PriorityHigh)
	defer unsubscribe()

	bus.Publish(context.Background(), "acct-1", EventRiskAlert, PriorityLow, "t", "m", nil)
	select {
	case <-ch:
		t.Fatal("low priority event should not reach a HIGH-priority subscriber")
	default:
	}

	bus.Publish(context.Background(), "acct-1", EventRiskAlert, PriorityCritical, "t", "m", nil)
	select {
	case e := <-ch:
		require.Equal(t, EventRiskAlert, e.Type)
	default:
		t.Fatal("expected the critical event to be delivered")
	}
}

func TestRingBufferDropsOldestWhenFull(t *testing.T) {
	bus := New(2, nil, nil, observability.NewMetrics())
	bus.Publish(context.Background(), "acct-1", EventSystemAlert, PriorityLow, "a", "a", nil)
	bus.Publish(context.Background(), "acct-1", EventSystemAlert, PriorityLow, "b", "b", nil)
	bus.Publish(context.Background(), "acct-1", EventSystemAlert, PriorityLow, "c", "c", nil)

	history := bus.History("acct-1")
	require.Len(t, history, 2)
	require.Equal(t, "b", history[0].Title)
	require.Equal(t, "c", history[1].Title)
}

func TestPreferenceSuppressesEventType(t *testing.T) {
	bus := New(10, nil, nil, observability.NewMetrics())
	bus.SetPreference("acct-1", EventPriceAlert, false)
	bus.Publish(context.Background(), "acct-1", EventPriceAlert, PriorityLow, "t", "m", nil)
	require.Empty(t, bus.History("acct-1"))
}

func TestPublishOrderEventMapsStatusToEventType(t *testing.T) {
	bus := New(10, nil, nil, observability.NewMetrics())
	order := &domain.Order{ID: "o1", Symbol: "BTC-PERP", Status: domain.OrderStatusFilled}
	bus.PublishOrderEvent(context.Background(), "acct-1", order, "ORDER_PLACED")

	history := bus.History("acct-1")
	require.Len(t, history, 1)
	require.Equal(t, EventOrderFilled, history[0].Type)
	require.Equal(t, PriorityHigh, history[0].Priority)
}

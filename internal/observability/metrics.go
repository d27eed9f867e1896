package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors shared across the Order
// Executor, Position Tracker, Risk Engine and Notification Bus. A single
// instance is constructed at startup and passed down explicitly, matching
// this gateway's no-package-singleton rule.
type Metrics struct {
	Registry *prometheus.Registry

	OrdersSubmitted  prometheus.Counter
	OrdersExecuted   prometheus.Counter
	OrdersRejected   prometheus.Counter
	OrdersCanceled   prometheus.Counter
	ActiveOrders     prometheus.Gauge
	RiskViolations   *prometheus.CounterVec
	NotificationDrop prometheus.Counter
	PositionUpdates  prometheus.Counter
}

// NewMetrics registers and returns the gateway's Prometheus collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_orders_submitted_total",
			Help: "Total orders submitted to the executor.",
		}),
		OrdersExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_orders_executed_total",
			Help: "Total orders that reached a non-rejected terminal or resting state after dispatch.",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_orders_rejected_total",
			Help: "Total orders rejected during validation, risk check, or dispatch.",
		}),
		OrdersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_orders_canceled_total",
			Help: "Total orders canceled.",
		}),
		ActiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_orders_active",
			Help: "Orders currently in a non-terminal status.",
		}),
		RiskViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_risk_violations_total",
			Help: "Risk check violations by rule name.",
		}, []string{"rule"}),
		NotificationDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_notifications_dropped_total",
			Help: "Notifications dropped due to a full per-account ring buffer or a full subscriber channel.",
		}),
		PositionUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_position_updates_total",
			Help: "Total position mutations applied by the tracker.",
		}),
	}

	reg.MustRegister(
		m.OrdersSubmitted, m.OrdersExecuted, m.OrdersRejected, m.OrdersCanceled,
		m.ActiveOrders, m.RiskViolations, m.NotificationDrop, m.PositionUpdates,
	)

	return m
}

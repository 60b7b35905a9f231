package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Ticks counts engine ticks by the state the tick ran in.
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_ticks_total",
			Help: "Total number of engine ticks by state.",
		},
		[]string{"state"},
	)

	// TickErrors counts ticks skipped or degraded by collaborator failures.
	TickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_tick_errors_total",
			Help: "Total number of tick failures by kind.",
		},
		[]string{"kind"},
	)

	// RSI tracks the last computed RSI value.
	RSI = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trail_rsi",
			Help: "Last computed RSI of the traded symbol.",
		},
	)

	// OrdersSubmitted counts entry orders by side and result.
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_orders_submitted_total",
			Help: "Total number of entry orders submitted by side and result.",
		},
		[]string{"side", "result"},
	)

	// StopUpdates counts stop placements by kind and result.
	StopUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_stop_updates_total",
			Help: "Total number of stop placements by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// PositionOpen is 1 while a position is managed, 0 when flat.
	PositionOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trail_position_open",
			Help: "Whether a position is currently managed.",
		},
	)

	// PositionsClosed counts closed positions by status.
	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_positions_closed_total",
			Help: "Total number of closed positions by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(Ticks, TickErrors, RSI, OrdersSubmitted, StopUpdates, PositionOpen, PositionsClosed)
}

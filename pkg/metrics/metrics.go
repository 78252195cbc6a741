// Package metrics exposes the bot's Prometheus instrumentation.
// Registered on the default registry and served at /metrics by main.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_stream_reconnects_total",
			Help: "Stream reconnect attempts by source",
		},
		[]string{"source"},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_stream_decode_errors_total",
			Help: "Dropped frames that failed decoding, by source",
		},
		[]string{"source"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_fills_total",
			Help: "Confirmed fills applied to the ledger, by side",
		},
		[]string{"side"},
	)

	GridOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_grid_orders_total",
			Help: "Grid reconcile outcomes (created, cancelled, kept)",
		},
		[]string{"action"},
	)

	Rebalances = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbot_rebalances_total",
			Help: "Grid rebalances executed",
		},
	)

	PositionQty = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_position_qty",
			Help: "Current position quantity",
		},
	)

	AverageCost = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_position_avg_cost",
			Help: "Weighted average entry cost of the position",
		},
	)

	LastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_last_price",
			Help: "Last observed market price",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Reconnects,
		DecodeErrors,
		Fills,
		GridOrders,
		Rebalances,
		PositionQty,
		AverageCost,
		LastPrice,
	)
}

// Package metrics holds the Prometheus collectors of the bot.
//
// Exposed series:
//   - dca_decisions_total{symbol,kind}          decisions produced by the engine
//   - dca_orders_total{symbol,side,role}        orders accepted by the exchange
//   - dca_order_failures_total{symbol,side}     order submissions that failed
//   - dca_fills_total{symbol,side}              fills folded into cycles
//   - dca_reconciliation_errors_total{kind}     order events that could not be applied
//   - dca_degraded_reconciliations_total{symbol} cancellations handled without exchange data
//   - dca_cycles_completed_total{symbol}        closed cycles
//   - dca_realized_pnl_quote{symbol}            realized PnL of the last closed cycle
//   - dca_caretaker_actions_total{action}       cooldown releases and repaired cycles
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_decisions_total",
			Help: "Strategy decisions by kind",
		},
		[]string{"symbol", "kind"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_orders_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"symbol", "side", "role"},
	)

	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_order_failures_total",
			Help: "Order submissions rejected or failed",
		},
		[]string{"symbol", "side"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_fills_total",
			Help: "Order fills applied to cycles",
		},
		[]string{"symbol", "side"},
	)

	ReconciliationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_reconciliation_errors_total",
			Help: "Order events that could not be reconciled, by error kind",
		},
		[]string{"kind"},
	)

	DegradedReconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_degraded_reconciliations_total",
			Help: "Sell cancellations reconciled without an exchange position",
		},
		[]string{"symbol"},
	)

	CyclesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_cycles_completed_total",
			Help: "Completed DCA cycles",
		},
		[]string{"symbol"},
	)

	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dca_realized_pnl_quote",
			Help: "Realized PnL in quote currency of the last completed cycle",
		},
		[]string{"symbol"},
	)

	CaretakerActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_caretaker_actions_total",
			Help: "Cycles moved by the caretaker, by action",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		Decisions,
		Orders,
		OrderFailures,
		Fills,
		ReconciliationErrors,
		DegradedReconciliations,
		CyclesCompleted,
		RealizedPnL,
		CaretakerActions,
	)
}

// Handler serves the default registry in text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

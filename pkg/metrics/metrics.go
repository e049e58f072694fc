package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderFills counts successful fills by path (single, batch, match).
var OrderFills = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "everbloom_order_fills_total",
		Help: "Total number of successfully settled fills",
	},
	[]string{"path"},
)

// OrderCancels counts successful order cancellations.
var OrderCancels = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "everbloom_order_cancels_total",
		Help: "Total number of cancelled orders",
	},
)

// OrderMatches counts successful two-sided matches.
var OrderMatches = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "everbloom_order_matches_total",
		Help: "Total number of matched order pairs",
	},
)

// CustodyTransfers counts executed custody transfers by kind.
var CustodyTransfers = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "everbloom_custody_transfers_total",
		Help: "Total number of custody balance movements",
	},
	[]string{"kind"},
)

// OperationFailures counts failed operations by error category.
var OperationFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "everbloom_operation_failures_total",
		Help: "Total number of failed operations by error category",
	},
	[]string{"category"},
)

func init() {
	prometheus.MustRegister(OrderFills, OrderCancels, OrderMatches)
	prometheus.MustRegister(CustodyTransfers, OperationFailures)
}

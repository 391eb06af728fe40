package core

import "github.com/prometheus/client_golang/prometheus"

const prometheusNamespace = "txmanager"

var TransactionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "transactions_total",
	Help:      "Number of transactions submitted",
}, []string{"manager", "from", "result"})

var ReceiptPollsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "receipt_polls_total",
	Help:      "Number of receipt queries sent to the node",
}, []string{"processor"})

var ReceiptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "receipts_total",
	Help:      "Number of awaited transactions by terminal state",
}, []string{"processor", "state"})

var PendingReceiptsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: prometheusNamespace,
	Name:      "pending_receipts",
	Help:      "Transactions waiting for a receipt in a queuing processor",
}, []string{"processor"})

var FilterReinstallsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "filter_reinstalls_total",
	Help:      "Number of filters reinstalled after the node lost them",
}, []string{"filter"})

var FilterErrorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "filter_errors_total",
	Help:      "Filter Errors Counter",
}, []string{"filter"})

// Collectors returns every metric of this package, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TransactionsCounter,
		ReceiptPollsCounter,
		ReceiptsCounter,
		PendingReceiptsGauge,
		FilterReinstallsCounter,
		FilterErrorsCounter,
	}
}

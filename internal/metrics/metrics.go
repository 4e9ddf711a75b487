// Package metrics exposes prometheus collectors for the game and money paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crash"

var (
	BetsPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bets_placed_total",
		Help:      "Bets admitted into a betting window.",
	})
	BetsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bets_rejected_total",
		Help:      "Bets rejected, by reason.",
	}, []string{"reason"})
	CashOuts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cashouts_total",
		Help:      "Cash-outs, by trigger (manual or auto).",
	}, []string{"trigger"})
	Rounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_total",
		Help:      "Finished rounds, by final status.",
	}, []string{"status"})
	CurrentMultiplier = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "current_multiplier",
		Help:      "Multiplier of the running round in hundredths.",
	})
	LedgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_version_conflicts_total",
		Help:      "Optimistic version conflicts seen by the ledger.",
	})
	SettlementRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_retries_total",
		Help:      "Ledger calls retried during settlement or refund.",
	})
	DepositsCredited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposits_credited_total",
		Help:      "Deposits credited to the ledger.",
	})
	IndexedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deposit_indexer_height",
		Help:      "Last block fully processed by the deposit indexer.",
	})
	CustodyDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "custody_drift_minor_units",
		Help:      "Custodial balance minus ledger liabilities at the last check.",
	})
	Incidents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "incidents_total",
		Help:      "Incidents raised, by kind.",
	}, []string{"kind"})
	BroadcastDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_subscribers_total",
		Help:      "Subscribers dropped for falling behind.",
	})
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcast_subscribers",
		Help:      "Connected event subscribers.",
	})
)

// Registry holds every collector of the service
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BetsPlaced,
		BetsRejected,
		CashOuts,
		Rounds,
		CurrentMultiplier,
		LedgerConflicts,
		SettlementRetries,
		DepositsCredited,
		IndexedHeight,
		CustodyDrift,
		Incidents,
		BroadcastDrops,
		Subscribers,
	)
}

// Handler serves the registry in the prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

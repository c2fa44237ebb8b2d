// Package metrics holds the prometheus collectors for the ledger core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerEntries counts appended ledger entries by kind.
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gram_ledger_entries_total",
		Help: "Ledger entries appended, by entry kind.",
	}, []string{"kind"})

	// PaymentsIngested counts payment ingestion outcomes.
	PaymentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gram_payments_ingested_total",
		Help: "External payment confirmations processed, by result.",
	}, []string{"result"})

	// CheckActivations counts successful check activations.
	CheckActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gram_check_activations_total",
		Help: "Successful check activations.",
	})

	// SweepTransitions counts entities closed by the expiry sweeps.
	SweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gram_sweep_transitions_total",
		Help: "Entities expired by the periodic sweeps, by entity.",
	}, []string{"entity"})
)

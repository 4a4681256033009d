// Package metrics defines the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadAttempts counts upload attempts by outcome (success, failed).
	UploadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairledger",
		Name:      "upload_attempts_total",
		Help:      "Upload attempts against the remote ledger by outcome.",
	}, []string{"outcome"})

	// UploadConflicts counts manual uploads rejected by the single-flight gate.
	UploadConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairledger",
		Name:      "upload_conflicts_total",
		Help:      "Manual uploads rejected because another upload was in flight.",
	})

	// QueueDepth tracks the number of record identifiers awaiting retry.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairledger",
		Name:      "upload_queue_depth",
		Help:      "Records currently queued for a retry attempt.",
	})

	// RemoteFetches counts snapshot refreshes by outcome (success, failed).
	RemoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairledger",
		Name:      "remote_fetches_total",
		Help:      "Remote record list fetches by outcome.",
	}, []string{"outcome"})
)

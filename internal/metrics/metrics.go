// Package metrics holds the Prometheus collectors for evidence ingestion and
// ledger application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payrecon"

var EvidenceUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "collector",
	Name:      "evidence_upserted_total",
	Help:      "Evidence rows created or refreshed, by kind and outcome (created, refreshed).",
}, []string{"kind", "outcome"})

var MessagesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "collector",
	Name:      "messages_skipped_total",
	Help:      "Mailbox messages or attachments skipped, by pass and reason.",
}, []string{"pass", "reason"})

var SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "collector",
	Name:      "passes_total",
	Help:      "Collector passes, by pass and final status.",
}, []string{"pass", "status"})

var ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "collector",
	Name:      "provider_call_seconds",
	Help:      "Latency of external calls made during a pass.",
	Buckets:   prometheus.DefBuckets,
}, []string{"call"})

var ExtractionResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "extraction",
	Name:      "results_total",
	Help:      "Amount extraction outcomes (found, none, provider_error, unsupported).",
}, []string{"outcome"})

var LedgerApplications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "applications_total",
	Help:      "Ledger application attempts, by result (applied, noop, conflict, error).",
}, []string{"result"})

package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "revive_reconcile_duration_seconds",
		Help:    "Duration of a device convergence including retries",
		Buckets: prometheus.DefBuckets,
	})
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revive_reconcile_total",
		Help: "Device convergences by result and failure kind",
	}, []string{"result", "kind"})
	fieldChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revive_reconcile_field_changes_total",
		Help: "Engine fields written during convergence",
	}, []string{"document", "field"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revive_reconcile_queue_depth",
		Help: "Devices waiting for convergence",
	})
	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revive_reconcile_coalesced_total",
		Help: "Requests that replaced a waiting request for the same device",
	})
)

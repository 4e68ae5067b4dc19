package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revive_registry_refresh_failures_total",
		Help: "Lease table reads that failed",
	})
	devicesKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revive_registry_devices",
		Help: "Devices known to the registry",
	})
)

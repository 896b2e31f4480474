package driver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFetches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthdriver",
		Name:      "fetches_total",
		Help:      "Number of driver archives downloaded.",
	})
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthdriver",
		Name:      "cache_hits_total",
		Help:      "Number of provisioning passes served by the cached base binary.",
	})
	metricPatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthdriver",
		Name:      "patches_total",
		Help:      "Number of driver binaries patched.",
	})
	metricInstancesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthdriver",
		Name:      "instances_issued_total",
		Help:      "Number of per-session driver instances issued.",
	})
	metricInstancesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthdriver",
		Name:      "instances_reaped_total",
		Help:      "Number of stale driver instances removed.",
	})
	metricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stealthdriver",
		Name:      "provision_failures_total",
		Help:      "Number of failed provisioning passes by error kind.",
	}, []string{"kind"})
)

func recordFetch() {
	metricFetches.Inc()
}

func recordCacheHit() {
	metricCacheHits.Inc()
}

func recordPatch() {
	metricPatches.Inc()
}

func recordInstanceIssued() {
	metricInstancesIssued.Inc()
}

func recordInstancesReaped(count int) {
	if count > 0 {
		metricInstancesReaped.Add(float64(count))
	}
}

func recordFailure(err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	metricFailures.WithLabelValues(string(kind)).Inc()
}

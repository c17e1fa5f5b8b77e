package argateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "argateway",
		Name:      "blocks_saved_total",
		Help:      "Blocks persisted to the index, fork replacements included.",
	})
	txsQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "argateway",
		Name:      "txs_queued_total",
		Help:      "Tx ids enqueued for header import.",
	})
	txsImportedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "argateway",
		Name:      "txs_imported_total",
		Help:      "Tx headers persisted.",
	})
	bundlesImportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argateway",
		Name:      "bundles_imported_total",
		Help:      "Bundle imports by terminal status.",
	}, []string{"status"})
	dataResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argateway",
		Name:      "data_resolved_total",
		Help:      "Payload resolutions by cascade tier.",
	}, []string{"source"})
)

func metricBlocksSaved(n int) {
	blocksSavedTotal.Add(float64(n))
}

func metricTxsQueued(n int) {
	txsQueuedTotal.Add(float64(n))
}

func metricTxImported() {
	txsImportedTotal.Inc()
}

func metricBundleImported(status string) {
	bundlesImportedTotal.WithLabelValues(status).Inc()
}

func metricDataResolved(source string) {
	dataResolvedTotal.WithLabelValues(source).Inc()
}

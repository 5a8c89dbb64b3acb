// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckIns counts resolved scans by outcome status and rejection reason.
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dojo",
		Name:      "checkins_total",
		Help:      "Check-in outcomes by status and reason.",
	}, []string{"status", "reason"})

	// QueueLength tracks items waiting in the offline queue.
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dojo",
		Name:      "offline_queue_length",
		Help:      "Items waiting in the offline queue.",
	})

	// SyncItems counts replayed queue items by result (synced, retried, dropped).
	SyncItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dojo",
		Name:      "offline_sync_items_total",
		Help:      "Offline queue replay results.",
	}, []string{"result"})

	// ScanDecodes counts tokens delivered by scan sessions after debouncing.
	ScanDecodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dojo",
		Name:      "scan_decodes_total",
		Help:      "QR tokens delivered by scan sessions.",
	})
)

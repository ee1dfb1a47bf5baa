// Package metrics exposes sync counters to Prometheus, either scraped from the
// API process or written to a node-exporter textfile by the sync command.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/tendersync/internal/domain"
)

var (
	regOK atomic.Bool

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by tender type and outcome.",
		}, []string{"tender_type", "status"},
	)
	tendersAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "tenders_added_total",
			Help:      "New tenders inserted by Phase B.",
		}, []string{"tender_type"},
	)
	statusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "status_changes_total",
			Help:      "Status changes detected on re-checked tenders.",
		}, []string{"tender_type"},
	)
	itemErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "item_errors_total",
			Help:      "Per-item and per-window errors recorded during runs.",
		}, []string{"tender_type"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"tender_type"},
	)
	lastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last run.",
		}, []string{"tender_type", "status"},
	)
	totalTenders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "tenders",
			Help:      "Tenders in the record file after the last run.",
		}, []string{"tender_type"},
	)

	countQueries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "reconcile",
			Name:      "count_queries_total",
			Help:      "Remote count queries issued.",
		},
	)
	unknownWindows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "reconcile",
			Name:      "unknown_windows_total",
			Help:      "Windows whose remote count failed and were assumed mismatched.",
		},
	)
	fallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "reconcile",
			Name:      "full_rescrape_fallbacks_total",
			Help:      "Reconciliations collapsed to the whole window by the density threshold.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		runsTotal, tendersAdded, statusChanges, itemErrors, runDuration,
		lastRunTimestamp, totalTenders, countQueries, unknownWindows, fallbacks,
	}
}

// Register registers all metrics with r. Calling it again after success is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile dumps g in the text exposition format, for the node exporter
// textfile collector. The file is replaced atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// The helpers below no-op until Register has been called.

// ObserveRun records the outcome of a finished run.
func ObserveRun(rec *domain.RunRecord) {
	if !regOK.Load() {
		return
	}
	typ := rec.TenderType
	runsTotal.WithLabelValues(typ, string(rec.Status)).Inc()
	runDuration.WithLabelValues(typ).Observe(rec.DurationSeconds)
	lastRunTimestamp.WithLabelValues(typ, string(rec.Status)).Set(float64(rec.Timestamp.Unix()))
	if rec.DryRun {
		return
	}
	tendersAdded.WithLabelValues(typ).Add(float64(rec.Metrics.NewTendersAdded))
	statusChanges.WithLabelValues(typ).Add(float64(rec.Metrics.StatusChangesDetected))
	itemErrors.WithLabelValues(typ).Add(float64(len(rec.Metrics.Errors)))
	totalTenders.WithLabelValues(typ).Set(float64(rec.Metrics.TotalTenders))
}

// ObserveReconcile records one reconciliation.
func ObserveReconcile(queries, unknown int, fellBack bool) {
	if !regOK.Load() {
		return
	}
	countQueries.Add(float64(queries))
	unknownWindows.Add(float64(unknown))
	if fellBack {
		fallbacks.Inc()
	}
}

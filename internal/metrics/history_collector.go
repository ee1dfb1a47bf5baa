package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/runlog"
)

// LatestRun is the part of the run history the collector reads.
type LatestRun interface {
	Latest() (*domain.RunRecord, error)
}

// HistoryCollector reports the freshness of the run history at scrape time.
// The API serves it on /metrics and the sync CLI adds it to its textfile export.
type HistoryCollector struct {
	history   LatestRun
	threshold time.Duration
	now       func() time.Time

	age    *prometheus.Desc
	health *prometheus.Desc
	errors *prometheus.Desc
}

// NewHistoryCollector builds a collector over history with the given freshness threshold.
func NewHistoryCollector(history LatestRun, threshold time.Duration) *HistoryCollector {
	return &HistoryCollector{
		history:   history,
		threshold: threshold,
		now:       time.Now,
		age: prometheus.NewDesc(
			"tendersync_history_last_run_age_seconds",
			"Seconds since the latest recorded run started.",
			nil, nil,
		),
		health: prometheus.NewDesc(
			"tendersync_history_health",
			"1 for the current health status of the run history, 0 otherwise.",
			[]string{"status"}, nil,
		),
		errors: prometheus.NewDesc(
			"tendersync_history_last_run_errors",
			"Errors recorded by the latest run.",
			nil, nil,
		),
	}
}

func (c *HistoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.age
	ch <- c.health
	ch <- c.errors
}

func (c *HistoryCollector) Collect(ch chan<- prometheus.Metric) {
	latest, err := c.history.Latest()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.health, err)
		return
	}
	res := runlog.Evaluate(latest, c.threshold, c.now())
	for _, st := range []domain.HealthStatus{domain.HealthHealthy, domain.HealthStale, domain.HealthFailed, domain.HealthNoData} {
		v := 0.0
		if st == res.Status {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.health, prometheus.GaugeValue, v, string(st))
	}
	if latest != nil {
		ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue, res.Age.Seconds())
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.GaugeValue, float64(len(latest.Metrics.Errors)))
	}
}

// Package metrics exposes the logger's operational counters over a private
// prometheus registry, served on the main HTTP mux.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"milelog/internal/domain"
)

type Collector struct {
	reg *prometheus.Registry

	Tracking prometheus.Gauge

	SamplesProcessed prometheus.Counter
	SamplesDiscarded prometheus.Counter
	TripsStarted     prometheus.Counter
	TripsCompleted   prometheus.Counter

	SyncCycles   prometheus.Counter
	SyncFailures *prometheus.CounterVec // category label
	SyncDuration prometheus.Histogram

	QueueTotal   prometheus.Gauge
	QueuePending prometheus.Gauge
	QueueFailed  prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Tracking: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milelog_tracking",
			Help: "1 while a trip is being tracked, 0 otherwise.",
		}),
		SamplesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milelog_samples_processed_total",
			Help: "Total geo samples accepted by the state machine.",
		}),
		SamplesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milelog_samples_discarded_total",
			Help: "Total malformed geo samples dropped.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milelog_trips_started_total",
			Help: "Total trips started, detected or manual.",
		}),
		TripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milelog_trips_completed_total",
			Help: "Total trips completed and saved.",
		}),
		SyncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milelog_sync_cycles_total",
			Help: "Total sync cycles completed without errors.",
		}),
		SyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milelog_sync_failures_total",
			Help: "Total sync cycles that finished with errors.",
		}, []string{"category"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "milelog_sync_duration_seconds",
			Help:    "Duration of full sync cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		QueueTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milelog_sync_queue_total",
			Help: "Operations currently in the offline queue.",
		}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milelog_sync_queue_pending",
			Help: "Queued operations still under the retry ceiling.",
		}),
		QueueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milelog_sync_queue_failed",
			Help: "Queued operations that exhausted their retries.",
		}),
	}

	reg.MustRegister(
		c.Tracking,
		c.SamplesProcessed, c.SamplesDiscarded,
		c.TripsStarted, c.TripsCompleted,
		c.SyncCycles, c.SyncFailures, c.SyncDuration,
		c.QueueTotal, c.QueuePending, c.QueueFailed,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// tracker.Metrics

func (c *Collector) SampleProcessed()   { c.SamplesProcessed.Inc() }
func (c *Collector) SampleDiscarded()   { c.SamplesDiscarded.Inc() }
func (c *Collector) TripStarted()       { c.TripsStarted.Inc() }
func (c *Collector) TripCompleted()     { c.TripsCompleted.Inc() }
func (c *Collector) SetTracking(b bool) { c.Tracking.Set(boolToGauge(b)) }

// syncer.Metrics

func (c *Collector) SyncCompleted(d time.Duration) {
	c.SyncCycles.Inc()
	c.SyncDuration.Observe(d.Seconds())
}

func (c *Collector) SyncFailed(category domain.ErrorCategory) {
	c.SyncFailures.WithLabelValues(string(category)).Inc()
}

func (c *Collector) SetQueueDepth(status domain.QueueStatus) {
	c.QueueTotal.Set(float64(status.Total))
	c.QueuePending.Set(float64(status.Pending))
	c.QueueFailed.Set(float64(status.Failed))
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Package metrics exposes Prometheus collectors for sweeps and the daemon's
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainwatch/internal/sweep"
)

const namespace = "chainwatch"

// Collector holds every metric. Each collector owns its registry, so tests
// and multiple daemons never clash on registration.
type Collector struct {
	registry *prometheus.Registry

	Sweeps         *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
	Scanned        prometheus.Counter
	FetchFailures  prometheus.Counter
	Downgraded     prometheus.Counter
	Purged         prometheus.Counter
	Pruned         prometheus.Counter
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	ChainLength    prometheus.Gauge
	UnbrokenLength prometheus.Gauge
	ChainValid     prometheus.Gauge
	Branches       prometheus.Gauge
	Expansions     prometheus.Gauge
	LastSweep      prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a collector with all metrics registered, plus the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweeps run, by result",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a sweep in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Scanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_scanned_total",
			Help:      "Profiles fetched successfully",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fetch_failures_total",
			Help:      "Profile fetches that failed",
		}),
		Downgraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_downgraded_total",
			Help:      "Real links turned stale before a rescan",
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_purged_total",
			Help:      "Stale links removed after a fully valid chain",
		}),
		Pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_pruned_total",
			Help:      "Disabled participants removed from the registry",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_published_total",
			Help:      "Chain texts published",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_publish_errors_total",
			Help:      "Sweeps whose chain or announcements failed to go out",
		}),
		ChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_length",
			Help:      "Participants in the best chain",
		}),
		UnbrokenLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_unbroken_length",
			Help:      "Real links from the anchor up to the first break",
		}),
		ChainValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_valid",
			Help:      "1 when every link of the best chain is real",
		}),
		Branches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_branches",
			Help:      "Maximal chains other than the best one",
		}),
		Expansions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_expansions",
			Help:      "Partial chains expanded by the last search",
		}),
		LastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last sweep finished",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Sweeps,
		c.SweepDuration,
		c.Scanned,
		c.FetchFailures,
		c.Downgraded,
		c.Purged,
		c.Pruned,
		c.Published,
		c.PublishErrors,
		c.ChainLength,
		c.UnbrokenLength,
		c.ChainValid,
		c.Branches,
		c.Expansions,
		c.LastSweep,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSweep records a finished sweep. It implements sweep.Observer.
func (c *Collector) ObserveSweep(report *sweep.Report, err error) {
	if report == nil {
		return
	}
	c.SweepDuration.Observe(report.EndedAt.Sub(report.StartedAt).Seconds())
	c.LastSweep.Set(float64(report.EndedAt.Unix()))
	c.Scanned.Add(float64(report.Scanned))
	c.FetchFailures.Add(float64(report.Failed))
	c.Downgraded.Add(float64(report.Downgraded))

	if err != nil {
		c.Sweeps.WithLabelValues("error").Inc()
		return
	}
	c.Sweeps.WithLabelValues("ok").Inc()
	c.Purged.Add(float64(report.Purged))
	c.Pruned.Add(float64(len(report.Pruned)))
	if report.Published {
		c.Published.Inc()
	}
	if report.PublishErr != "" {
		c.PublishErrors.Inc()
	}

	if v := report.View; v != nil {
		c.ChainLength.Set(float64(len(v.Best)))
		c.UnbrokenLength.Set(float64(v.Unbroken))
		c.Branches.Set(float64(v.Branches))
		c.Expansions.Set(float64(v.Stats.Expansions))
		if v.BestValid {
			c.ChainValid.Set(1)
		} else {
			c.ChainValid.Set(0)
		}
	}
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

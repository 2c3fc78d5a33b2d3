package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"FreshnessTracker/internal/ports"
)

const namespace = "freshtrack"

// Recorder collects simulation and HTTP telemetry on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	samples         prometheus.Counter
	itemFailures    prometheus.Counter
	rowsPersisted   prometheus.Counter
	persistFailures prometheus.Counter
	published       prometheus.Counter
	publishFailures prometheus.Counter
	activeStages    prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ ports.TickObserver = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks executed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one tick including persistence and broadcast.",
			Buckets:   prometheus.DefBuckets,
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Readings generated and scored.",
		}),
		itemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_failures_total",
			Help:      "Work items excluded from their tick.",
		}),
		rowsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_persisted_total",
			Help:      "Rows committed to the reading sink.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Tick batches the sink rejected.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_published_total",
			Help:      "Payloads handed to subscribers.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_publish_failures_total",
			Help:      "Payloads at least one broadcaster failed to deliver.",
		}),
		activeStages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_stages",
			Help:      "Stages currently in the active set.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ticks,
		r.tickDuration,
		r.samples,
		r.itemFailures,
		r.rowsPersisted,
		r.persistFailures,
		r.published,
		r.publishFailures,
		r.activeStages,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

func (r *Recorder) ObserveTick(_, samples, failures int, elapsed time.Duration) {
	r.ticks.Inc()
	r.tickDuration.Observe(elapsed.Seconds())
	r.samples.Add(float64(samples))
	r.itemFailures.Add(float64(failures))
}

func (r *Recorder) ObservePersist(rows int, err error) {
	if err != nil {
		r.persistFailures.Inc()
		return
	}
	r.rowsPersisted.Add(float64(rows))
}

func (r *Recorder) ObserveBroadcast(published, failed int) {
	r.published.Add(float64(published))
	r.publishFailures.Add(float64(failed))
}

func (r *Recorder) SetActiveStages(n int) {
	r.activeStages.Set(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WrapHandler counts requests and latency under the given route label.
func (r *Recorder) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, req)
		r.httpDuration.WithLabelValues(route).Observe(m.Duration.Seconds())
		r.httpRequests.WithLabelValues(route, strconv.Itoa(m.Code)).Inc()
	})
}

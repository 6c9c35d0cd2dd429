package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cruxdeb"

const (
	buildsTotal        = "builds_total"
	buildDuration      = "build_duration_seconds"
	stageDuration      = "stage_duration_seconds"
	stageFailuresTotal = "stage_failures_total"
	artifactBytes      = "artifact_bytes"
)

// Reasons a stage failed.
const (
	ReasonExit    = "exit"    // Non-zero exit status.
	ReasonTimeout = "timeout" // Stage timeout expired.
	ReasonError   = "error"   // Could not run at all.
)

type Recorder struct {
	registry *prometheus.Registry

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	stages        *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	artifactBytes prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.builds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      buildsTotal,
			Help:      "Builds finished, by outcome.",
		}, []string{"outcome"})

	r.buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      buildDuration,
			Help:      "Wall time of whole builds.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		})

	r.stages = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      stageDuration,
			Help:      "Wall time of build stages.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"stage"})

	r.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      stageFailuresTotal,
			Help:      "Failed build stages, by stage and reason.",
		}, []string{"stage", "reason"})

	r.artifactBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      artifactBytes,
			Help:      "Size of produced .deb files.",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 10),
		})

	r.registry.MustRegister(
		r.builds,
		r.buildDuration,
		r.stages,
		r.failures,
		r.artifactBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Records a finished build. outcome is the final state name.
func (r *Recorder) Build(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.builds.WithLabelValues(outcome).Inc()
	r.buildDuration.Observe(elapsed.Seconds())
}

// Records a stage run. reason is "" for a successful stage.
func (r *Recorder) Stage(stage string, elapsed time.Duration, reason string) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Observe(elapsed.Seconds())
	if reason != "" {
		r.failures.WithLabelValues(stage, reason).Inc()
	}
}

func (r *Recorder) Artifact(size int64) {
	if r == nil {
		return
	}
	r.artifactBytes.Observe(float64(size))
}

// Serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

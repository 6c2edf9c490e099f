// Package observability bundles the Prometheus collectors and the tracer used
// by the band pipeline and the derived-artifact cache.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache hit sources.
const (
	SourceLocal  = "local"
	SourceMirror = "mirror"
)

// Metrics holds the collectors for artifact caching and band processing.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	BandFailures    *prometheus.CounterVec
	BandsProcessed  *prometheus.CounterVec
}

// NewMetrics registers the collectors against reg, defaulting to the global
// registry when nil. Collectors already registered under the same name are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	hits, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eonorm_artifact_cache_hits_total",
		Help: "Derived artifacts served without recomputation, labeled by artifact kind and source.",
	}, []string{"kind", "source"}))
	if err != nil {
		return nil, err
	}
	misses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eonorm_artifact_cache_misses_total",
		Help: "Derived artifacts that had to be computed, labeled by artifact kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eonorm_artifact_compute_seconds",
		Help:    "Time spent computing and persisting a derived artifact.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eonorm_band_failures_total",
		Help: "Band pipeline failures, labeled by constellation and stage.",
	}, []string{"constellation", "stage"}))
	if err != nil {
		return nil, err
	}
	processed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eonorm_bands_processed_total",
		Help: "Bands that completed the pipeline, labeled by constellation and output unit.",
	}, []string{"constellation", "unit"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:        gatherer,
		CacheHits:       hits,
		CacheMisses:     misses,
		ComputeDuration: durations,
		BandFailures:    failures,
		BandsProcessed:  processed,
	}, nil
}

// CacheHit records an artifact served from source.
func (m *Metrics) CacheHit(kind, source string) {
	if m == nil || m.CacheHits == nil {
		return
	}
	m.CacheHits.WithLabelValues(kind, source).Inc()
}

// CacheMiss records an artifact computation and its duration.
func (m *Metrics) CacheMiss(kind string, took time.Duration) {
	if m == nil {
		return
	}
	if m.CacheMisses != nil {
		m.CacheMisses.WithLabelValues(kind).Inc()
	}
	if m.ComputeDuration != nil {
		m.ComputeDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}

// BandFailed records a band that failed at stage.
func (m *Metrics) BandFailed(constellation, stage string) {
	if m == nil || m.BandFailures == nil {
		return
	}
	m.BandFailures.WithLabelValues(constellation, stage).Inc()
}

// BandDone records a band that completed the pipeline.
func (m *Metrics) BandDone(constellation, unit string) {
	if m == nil || m.BandsProcessed == nil {
		return
	}
	m.BandsProcessed.WithLabelValues(constellation, unit).Inc()
}

// Handler exposes a /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("observability: collector already registered with incompatible type")
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("observability: collector already registered with incompatible type")
		}
		return nil, err
	}
	return vec, nil
}

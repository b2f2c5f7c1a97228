package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Derivation metrics
var (
	DerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localwatch_derivations_total",
			Help: "Total number of finished artifact derivations",
		},
		[]string{"reason", "result"},
	)

	DerivationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localwatch_derivation_duration_seconds",
			Help:    "Artifact derivation duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"reason"},
	)

	DerivationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localwatch_derivations_active",
			Help: "Number of derivations currently running",
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localwatch_artifact_cache_hits_total",
			Help: "Total number of requests served by an existing artifact",
		},
	)
)

// Probe metrics
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localwatch_probes_total",
			Help: "Total number of ffprobe invocations",
		},
		[]string{"result"},
	)
)

// Intro detection metrics
var (
	IntroDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localwatch_intro_detections_total",
			Help: "Total number of computed intro verdicts",
		},
		[]string{"status"},
	)

	IntroCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localwatch_intro_cache_hits_total",
			Help: "Total number of intro verdicts served from cache",
		},
	)
)

// Preconverter metrics
var (
	PreconvertScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localwatch_preconvert_scans_total",
			Help: "Total number of background catalog scans",
		},
		[]string{"result"},
	)

	PreconvertPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localwatch_preconvert_pending",
			Help: "Number of sources waiting for background derivation in the current scan",
		},
	)
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and gauges for the forecasting
// engine. The scheduled jobs embedding the engine expose them; the engine
// only increments.
type Metrics struct {
	TrainingsTotal   prometheus.Counter
	TrainingFailures prometheus.Counter
	EpochsTotal      prometheus.Counter
	BatchesSkipped   prometheus.Counter
	ForecastsTotal   prometheus.Counter

	// Per-city calibration and evaluation quality.
	CalibrationViolationRate *prometheus.GaugeVec // label: city
	TestCoverage             *prometheus.GaugeVec // label: city
	CalibrationAnomalies     prometheus.Counter

	TrainingDuration prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.TrainingsTotal,
		m.TrainingFailures,
		m.EpochsTotal,
		m.BatchesSkipped,
		m.ForecastsTotal,
		m.CalibrationViolationRate,
		m.TestCoverage,
		m.CalibrationAnomalies,
		m.TrainingDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// construct pipelines repeatedly without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		TrainingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "no2cast",
			Name:      "trainings_total",
			Help:      "Total completed training runs.",
		}),
		TrainingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "no2cast",
			Name:      "training_failures_total",
			Help:      "Total training runs that aborted with an error.",
		}),
		EpochsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "no2cast",
			Name:      "epochs_total",
			Help:      "Total optimizer epochs across all trainings.",
		}),
		BatchesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "no2cast",
			Name:      "batches_skipped_total",
			Help:      "Total degenerate minibatches skipped during training.",
		}),
		ForecastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "no2cast",
			Name:      "forecasts_total",
			Help:      "Total forecast rollouts produced.",
		}),
		CalibrationViolationRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "no2cast",
			Name:      "calibration_violation_rate",
			Help:      "Calibration-set violation rate of the latest training; should track alpha.",
		}, []string{"city"}),
		TestCoverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "no2cast",
			Name:      "test_coverage",
			Help:      "Test-split empirical coverage of the latest training.",
		}, []string{"city"}),
		CalibrationAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "no2cast",
			Name:      "calibration_anomalies_total",
			Help:      "Trainings whose violation rate was far from the target alpha.",
		}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "no2cast",
			Name:      "training_duration_seconds",
			Help:      "Duration of a complete train-calibrate-evaluate run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

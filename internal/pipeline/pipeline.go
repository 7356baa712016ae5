package pipeline

import (
	"fmt"
	"log"

	"github.com/jonboulle/clockwork"

	"no2cast/internal/artifact"
	"no2cast/internal/features"
	"no2cast/internal/forecast"
	"no2cast/internal/model"
	"no2cast/internal/observability"
	"no2cast/internal/predictor"
	"no2cast/internal/reproduce"
)

// Config is the full training configuration: split ratios, network
// architecture, optimizer settings, and reproducibility controls.
type Config struct {
	TrainRatio float64
	CalibRatio float64
	TestRatio  float64

	HiddenDims  []int
	UseResidual bool

	Training predictor.TrainConfig
	Alpha    float64

	// Deterministic selects per-city seeded training. BaseSeed feeds the
	// city seed derivation.
	Deterministic bool
	BaseSeed      uint64
}

// DefaultConfig returns the production training configuration: 60/30/10
// chronological splits, a [32, 32] trunk, deterministic seeding.
func DefaultConfig() Config {
	return Config{
		TrainRatio:    0.6,
		CalibRatio:    0.3,
		TestRatio:     0.1,
		HiddenDims:    []int{32, 32},
		UseResidual:   false,
		Training:      predictor.DefaultTrainConfig(),
		Alpha:         predictor.DefaultAlpha,
		Deterministic: true,
		BaseSeed:      reproduce.DefaultBaseSeed,
	}
}

// Report is the training entrypoint's evaluation output.
type Report struct {
	Coverage         float64
	AvgIntervalWidth float64
	TestSamples      int

	Calibration predictor.Calibration
	Epochs      []predictor.EpochStats
	Seed        uint64
}

// Pipeline wires the engine components behind the two external entrypoints.
type Pipeline struct {
	clock   clockwork.Clock
	metrics *observability.Metrics
}

func New(clock clockwork.Clock, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{clock: clock, metrics: metrics}
}

// Train runs the full training protocol for one city: feature construction,
// chronological split, train-split scaler fitting, seeded optimization,
// split-conformal calibration, and test evaluation. The observations must be
// in time order.
func (p *Pipeline) Train(city string, obs []model.Observation, cfg Config) (*artifact.Artifact, *Report, error) {
	a, r, err := p.train(city, obs, cfg)
	if err != nil {
		p.metrics.TrainingFailures.Inc()
		return nil, nil, err
	}
	p.metrics.TrainingsTotal.Inc()
	return a, r, nil
}

func (p *Pipeline) train(city string, obs []model.Observation, cfg Config) (*artifact.Artifact, *Report, error) {
	if err := cfg.Training.Validate(); err != nil {
		return nil, nil, err
	}

	start := p.clock.Now()

	X, y, err := features.Build(obs)
	if err != nil {
		return nil, nil, fmt.Errorf("building features for %s: %w", city, err)
	}

	split, err := features.NewSplit(len(X), cfg.TrainRatio, cfg.CalibRatio, cfg.TestRatio)
	if err != nil {
		return nil, nil, err
	}

	// Scalers are fit on the training rows only and reused unmodified for
	// calibration, test, and inference. No future leakage into training.
	scalers, err := features.FitScalerSet(X[:split.TrainEnd])
	if err != nil {
		return nil, nil, fmt.Errorf("fitting scalers for %s: %w", city, err)
	}
	scaled := scalers.Apply(X)

	var scope *reproduce.Scope
	if cfg.Deterministic {
		scope = reproduce.NewScope(city, cfg.BaseSeed)
		log.Printf("city %s: deterministic training, seed %d", city, scope.Seed())
	} else {
		scope = reproduce.NewFreeScope(city)
	}

	arch := predictor.ArchConfig{
		InputDim:    features.Width,
		HiddenDims:  cfg.HiddenDims,
		UseResidual: cfg.UseResidual,
	}
	net, epochs, err := predictor.Train(scaled[:split.TrainEnd], y[:split.TrainEnd], arch, cfg.Training, scope.RNG())
	if err != nil {
		return nil, nil, fmt.Errorf("training %s: %w", city, err)
	}
	for _, e := range epochs {
		p.metrics.EpochsTotal.Inc()
		p.metrics.BatchesSkipped.Add(float64(e.SkippedBatches))
	}

	calib, err := predictor.Calibrate(net, scaled[split.TrainEnd:split.CalibEnd], y[split.TrainEnd:split.CalibEnd], cfg.Alpha)
	if err != nil {
		return nil, nil, fmt.Errorf("calibrating %s: %w", city, err)
	}
	p.metrics.CalibrationViolationRate.WithLabelValues(city).Set(calib.ViolationRate)
	if calib.Anomaly {
		p.metrics.CalibrationAnomalies.Inc()
		log.Printf("city %s: calibration violation rate %.1f%% is far from target %.1f%%, model flagged",
			city, 100*calib.ViolationRate, 100*cfg.Alpha)
	}

	eval, err := predictor.Evaluate(net, scaled[split.CalibEnd:], y[split.CalibEnd:], calib.Q)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluating %s: %w", city, err)
	}
	p.metrics.TestCoverage.WithLabelValues(city).Set(eval.Coverage)
	p.metrics.TrainingDuration.Observe(p.clock.Since(start).Seconds())

	art := &artifact.Artifact{
		City:      city,
		TrainedAt: p.clock.Now().UTC(),
		Network:   net,
		Q:         calib.Q,
		Scalers:   scalers,
	}
	report := &Report{
		Coverage:         eval.Coverage,
		AvgIntervalWidth: eval.AvgIntervalWidth,
		TestSamples:      eval.TestSamples,
		Calibration:      calib,
		Epochs:           epochs,
		Seed:             scope.Seed(),
	}
	return art, report, nil
}

// Forecast is the inference entrypoint: an autoregressive rollout of the
// calibrated model over the given horizon (DefaultHorizon when 0), starting
// from the most recent observation history.
func (p *Pipeline) Forecast(art *artifact.Artifact, history []model.Observation, horizon int) ([]model.PredictionInterval, error) {
	if horizon == 0 {
		horizon = forecast.DefaultHorizon
	}
	out, err := forecast.Forecast(art, history, horizon)
	if err != nil {
		return nil, err
	}
	p.metrics.ForecastsTotal.Inc()
	return out, nil
}

// Evaluate re-scores a saved model on fresh observations, using the
// artifact's persisted scalers (never refit) and its calibration offset on
// the most recent share of rows.
func (p *Pipeline) Evaluate(art *artifact.Artifact, obs []model.Observation, testShare float64) (predictor.Evaluation, error) {
	if testShare <= 0 || testShare > 1 {
		return predictor.Evaluation{}, fmt.Errorf("%w: test share must be in (0, 1], got %g", model.ErrInvalidConfig, testShare)
	}

	X, y, err := features.Build(obs)
	if err != nil {
		return predictor.Evaluation{}, err
	}
	scaled := art.Scalers.Apply(X)

	start := len(scaled) - int(float64(len(scaled))*testShare)
	if start >= len(scaled) {
		start = len(scaled) - 1
	}
	return predictor.Evaluate(art.Network, scaled[start:], y[start:], art.Q)
}

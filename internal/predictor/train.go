package predictor

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"no2cast/internal/model"
)

// TrainConfig holds the optimizer and crossing-penalty hyperparameters.
// The λ schedule constants mirror long-standing tuned behavior; treat them as
// configuration, not as derivable values.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	// Adaptive crossing-penalty weight λ: starts at LambdaStart and is
	// re-evaluated against the epoch-average crossing penalty every
	// LogInterval epochs (plus the first and last): multiplied by
	// LambdaUpFactor above LambdaUpTrigger, decayed by LambdaDownFactor
	// (floored at LambdaFloor) below LambdaDownTrigger.
	LambdaStart       float64
	LambdaUpTrigger   float64
	LambdaDownTrigger float64
	LambdaUpFactor    float64
	LambdaDownFactor  float64
	LambdaFloor       float64
	LogInterval       int
}

// DefaultTrainConfig returns the production training defaults.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       150,
		BatchSize:    32,
		LearningRate: 4e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,

		LambdaStart:       1.0,
		LambdaUpTrigger:   0.2,
		LambdaDownTrigger: 0.01,
		LambdaUpFactor:    1.5,
		LambdaDownFactor:  0.9,
		LambdaFloor:       0.1,
		LogInterval:       50,
	}
}

// Validate rejects configurations before any computation happens.
func (c TrainConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", model.ErrInvalidConfig, c.Epochs)
	}
	if c.BatchSize < 2 {
		return fmt.Errorf("%w: batch size must be at least 2, got %d", model.ErrInvalidConfig, c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", model.ErrInvalidConfig, c.LearningRate)
	}
	if c.LogInterval <= 0 {
		return fmt.Errorf("%w: log interval must be positive, got %d", model.ErrInvalidConfig, c.LogInterval)
	}
	return nil
}

// EpochStats is one epoch's summary: decomposed average losses, the λ in
// effect, and how many batches were skipped as degenerate.
type EpochStats struct {
	Epoch           int
	TotalLoss       float64
	LowerLoss       float64
	UpperLoss       float64
	CrossingPenalty float64
	Lambda          float64
	Batches         int
	SkippedBatches  int
}

// Train builds a network for arch and optimizes it on the (already scaled)
// training rows with the non-crossing pinball objective. Weight
// initialization and minibatch shuffling draw only from rng, so identical
// inputs and seed give bit-identical weights. Minibatches use drop_last
// truncation: a trailing partial batch would break exact reproducibility of
// the shuffle-to-batch mapping across differently sized runs.
func Train(X [][]float64, y []float64, arch ArchConfig, cfg TrainConfig, rng *rand.Rand) (*QuantileNet, []EpochStats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	nTrain := len(X)
	if nTrain < 2 {
		return nil, nil, fmt.Errorf("%w: %d training rows, need at least 2", model.ErrInsufficientData, nTrain)
	}
	if nTrain < cfg.BatchSize {
		log.Printf("training rows (%d) fewer than batch size (%d), clamping batch size", nTrain, cfg.BatchSize)
		cfg.BatchSize = nTrain
	}

	net, err := NewQuantileNet(arch, rng)
	if err != nil {
		return nil, nil, err
	}

	indices := make([]int, nTrain)
	for i := range indices {
		indices[i] = i
	}

	lambda := cfg.LambdaStart
	step := 0
	history := make([]EpochStats, 0, cfg.Epochs)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(nTrain, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		stats := EpochStats{Epoch: epoch, Lambda: lambda}

		// drop_last: iterate full batches only.
		for start := 0; start+cfg.BatchSize <= nTrain; start += cfg.BatchSize {
			batchX := make([][]float64, cfg.BatchSize)
			batchY := make([]float64, cfg.BatchSize)
			for b := 0; b < cfg.BatchSize; b++ {
				idx := indices[start+b]
				batchX[b] = X[idx]
				batchY[b] = y[idx]
			}

			// Batch-norm needs at least 2 samples per batch.
			if len(batchX) < 2 {
				stats.SkippedBatches++
				continue
			}

			lower, upper := net.Forward(batchX, true)
			loss, dLower, dUpper := quantileLoss(lower, upper, batchY, lambda)
			if math.IsNaN(loss.Total) || math.IsInf(loss.Total, 0) {
				return nil, history, fmt.Errorf("epoch %d batch %d: loss diverged (%v)", epoch, stats.Batches, loss.Total)
			}

			net.zeroGrad()
			net.backward(dLower, dUpper)
			step++
			net.adamStep(cfg, step)

			stats.TotalLoss += loss.Total
			stats.LowerLoss += loss.Lower
			stats.UpperLoss += loss.Upper
			stats.CrossingPenalty += loss.Crossing
			stats.Batches++
		}

		if stats.Batches > 0 {
			n := float64(stats.Batches)
			stats.TotalLoss /= n
			stats.LowerLoss /= n
			stats.UpperLoss /= n
			stats.CrossingPenalty /= n
		}
		history = append(history, stats)

		// λ re-evaluation at the logging cadence.
		if epoch == 0 || (epoch+1)%cfg.LogInterval == 0 || epoch == cfg.Epochs-1 {
			if stats.CrossingPenalty > cfg.LambdaUpTrigger {
				lambda *= cfg.LambdaUpFactor
			} else if stats.CrossingPenalty < cfg.LambdaDownTrigger {
				lambda = math.Max(cfg.LambdaFloor, lambda*cfg.LambdaDownFactor)
			}
		}
	}

	return net, history, nil
}

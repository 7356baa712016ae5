package pipeline

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"no2cast/internal/model"
	"no2cast/internal/observability"
)

// syntheticCity builds n hourly observations with a stationary daily NO2
// cycle plus noise, which a calibrated model must cover regardless of how
// well the network itself fits.
func syntheticCity(n int, seed uint64) []model.Observation {
	rng := rand.New(rand.NewPCG(seed, 0))
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	obs := make([]model.Observation, n)
	for i := range obs {
		ts := start.Add(time.Duration(i) * time.Hour)
		hour := float64(ts.Hour())
		obs[i] = model.Observation{
			Timestamp:     ts,
			NO2:           50 + 10*math.Sin(2*math.Pi*hour/24) + 2*rng.NormFloat64(),
			Temperature:   25 + 5*math.Sin(2*math.Pi*hour/24) + rng.NormFloat64(),
			Humidity:      70 + 5*rng.NormFloat64(),
			WindSpeed:     10 + 2*rng.NormFloat64(),
			WindDirection: math.Mod(180+30*rng.NormFloat64()+360, 360),
			Pressure:      1010 + 2*rng.NormFloat64(),
		}
	}
	return obs
}

func testPipeline() *Pipeline {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC))
	return New(clock, observability.NewMetricsForTesting())
}

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.HiddenDims = []int{16, 16}
	cfg.Training.Epochs = 50
	return cfg
}

func TestPipeline_TrainEndToEnd(t *testing.T) {
	p := testPipeline()
	obs := syntheticCity(240, 7)

	art, report, err := p.Train("dongguan", obs, quickConfig())
	require.NoError(t, err)
	require.NotNil(t, art)
	require.NotNil(t, report)

	assert.Equal(t, "dongguan", art.City)
	assert.Equal(t, time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC), art.TrainedAt)
	assert.Equal(t, uint64(1001), report.Seed)
	assert.Len(t, report.Epochs, 50)

	// Conformal calibration must deliver coverage near 95% on a stationary
	// series even when the network fit is rough.
	assert.GreaterOrEqual(t, report.Coverage, 0.8)
	assert.Greater(t, report.AvgIntervalWidth, 0.0)
	assert.False(t, math.IsNaN(report.AvgIntervalWidth))
	assert.Greater(t, report.TestSamples, 0)
	assert.Greater(t, report.Calibration.CalibSize, 0)

	// Forecasting off the trained artifact.
	preds, err := p.Forecast(art, obs[len(obs)-2:], 0)
	require.NoError(t, err)
	require.Len(t, preds, 24)
	for i, pi := range preds {
		assert.False(t, math.IsNaN(pi.Prediction))
		assert.Less(t, pi.LowerBound, pi.UpperBound)

		// Even an underfit model must keep the recursive rollout inside a
		// physically plausible concentration band.
		assert.GreaterOrEqual(t, pi.Prediction, 0.0, "step %d", i)
		assert.LessOrEqual(t, pi.Prediction, 200.0, "step %d", i)
	}
}

func TestPipeline_Train_Deterministic(t *testing.T) {
	obs := syntheticCity(180, 8)
	cfg := quickConfig()
	cfg.Training.Epochs = 5

	artA, _, err := testPipeline().Train("dongguan", obs, cfg)
	require.NoError(t, err)

	// Retraining from scratch is bit-identical.
	artB, _, err := testPipeline().Train("dongguan", obs, cfg)
	require.NoError(t, err)
	assert.Equal(t, artA.Network.WeightsHash(), artB.Network.WeightsHash())

	// Training another city first must not perturb the result: seeding is
	// scoped per city, not process-global.
	p := testPipeline()
	_, _, err = p.Train("guangzhou", syntheticCity(180, 9), cfg)
	require.NoError(t, err)
	artC, _, err := p.Train("dongguan", obs, cfg)
	require.NoError(t, err)
	assert.Equal(t, artA.Network.WeightsHash(), artC.Network.WeightsHash())
}

func TestPipeline_Train_InvalidRatios(t *testing.T) {
	cfg := quickConfig()
	cfg.TestRatio = 0.3 // ratios sum to 1.2

	_, _, err := testPipeline().Train("dongguan", syntheticCity(180, 10), cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestPipeline_Train_InsufficientData(t *testing.T) {
	_, _, err := testPipeline().Train("dongguan", syntheticCity(4, 11), quickConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestPipeline_Evaluate(t *testing.T) {
	p := testPipeline()
	obs := syntheticCity(240, 12)

	art, _, err := p.Train("dongguan", obs, quickConfig())
	require.NoError(t, err)

	// Re-scoring on the same stationary series keeps coverage high.
	eval, err := p.Evaluate(art, obs, 0.3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, eval.Coverage, 0.7)
	assert.Greater(t, eval.TestSamples, 0)

	_, err = p.Evaluate(art, obs, 0)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	_, err = p.Evaluate(art, obs, 1.5)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestPipeline_Forecast_Errors(t *testing.T) {
	p := testPipeline()
	obs := syntheticCity(240, 13)
	art, _, err := p.Train("dongguan", obs, quickConfig())
	require.NoError(t, err)

	_, err = p.Forecast(art, obs[:1], 24)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
	_, err = p.Forecast(art, obs[len(obs)-2:], -1)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

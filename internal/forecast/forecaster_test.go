package forecast

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"no2cast/internal/artifact"
	"no2cast/internal/features"
	"no2cast/internal/model"
	"no2cast/internal/predictor"
)

func identityScalers() features.ScalerSet {
	unit := features.Scaler{Mean: 0, Std: 1}
	return features.ScalerSet{
		Temperature: unit,
		Humidity:    unit,
		WindSpeed:   unit,
		Pressure:    unit,
	}
}

func testArtifact(t *testing.T, seed uint64) *artifact.Artifact {
	t.Helper()
	arch := predictor.ArchConfig{InputDim: features.Width, HiddenDims: []int{8}}
	net, err := predictor.NewQuantileNet(arch, rand.New(rand.NewPCG(seed, 0)))
	require.NoError(t, err)
	return &artifact.Artifact{
		City:      "dongguan",
		TrainedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Network:   net,
		Q:         3.5,
		Scalers:   identityScalers(),
	}
}

func testHistory() []model.Observation {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return []model.Observation{
		{Timestamp: base, NO2: 42, Temperature: 25, Humidity: 70, WindSpeed: 10, WindDirection: 90, Pressure: 1010},
		{Timestamp: base.Add(time.Hour), NO2: 45, Temperature: 26, Humidity: 68, WindSpeed: 11, WindDirection: 95, Pressure: 1009},
	}
}

func TestForecast_HourlySteps(t *testing.T) {
	art := testArtifact(t, 1)
	history := testHistory()

	out, err := Forecast(art, history, DefaultHorizon)
	require.NoError(t, err)
	require.Len(t, out, DefaultHorizon)

	latest := history[len(history)-1].Timestamp
	for i, pi := range out {
		assert.Equal(t, latest.Add(time.Duration(i+1)*time.Hour), pi.Timestamp)
		assert.False(t, math.IsNaN(pi.Prediction))

		// Intervals are symmetric around the reported midpoint.
		assert.InDelta(t, (pi.LowerBound+pi.UpperBound)/2, pi.Prediction, 1e-12)
		// Conformal widening keeps lower below upper here (2Q margin).
		assert.Less(t, pi.LowerBound, pi.UpperBound)
	}
}

func TestForecast_PrefixStability(t *testing.T) {
	// The rollout is a pure function of artifact and history: a longer horizon
	// must reproduce the shorter one exactly as its prefix.
	art := testArtifact(t, 2)
	history := testHistory()

	short, err := Forecast(art, history, 6)
	require.NoError(t, err)
	long, err := Forecast(art, history, 7)
	require.NoError(t, err)

	require.Len(t, long, 7)
	assert.Equal(t, short, long[:6])
}

func TestForecast_MidpointFeedback(t *testing.T) {
	// The observed lags seed the rollout, so every step must react to a
	// change in the latest NO2 reading.
	art := testArtifact(t, 3)
	h1 := testHistory()
	h2 := testHistory()
	h2[1].NO2 += 10

	out1, err := Forecast(art, h1, 3)
	require.NoError(t, err)
	out2, err := Forecast(art, h2, 3)
	require.NoError(t, err)

	assert.NotEqual(t, out1[0].Prediction, out2[0].Prediction)
	assert.NotEqual(t, out1[1].Prediction, out2[1].Prediction)
}

// amplifierArtifact builds a degenerate network whose heads output roughly
// twice the lag1 input. Unbounded midpoint feedback through such a network
// doubles every step and overflows any plausible band within the horizon.
func amplifierArtifact(t *testing.T) *artifact.Artifact {
	t.Helper()

	arch := predictor.ArchConfig{InputDim: features.Width, HiddenDims: []int{1}}
	lin1 := make([]float64, features.Width)
	lin1[features.ColNO2Lag1] = 1

	net, err := predictor.LoadNet(arch, predictor.NetState{
		Dense: []predictor.DenseState{
			{Weights: [][]float64{lin1}, Biases: []float64{0}},
			{Weights: [][]float64{{1}}, Biases: []float64{0}}, // lower head
			{Weights: [][]float64{{1}}, Biases: []float64{0}}, // upper head
		},
		Norms: []predictor.NormState{{
			Gamma:       []float64{2},
			Beta:        []float64{0},
			RunningMean: []float64{0},
			RunningVar:  []float64{1},
		}},
	})
	require.NoError(t, err)

	return &artifact.Artifact{
		City:      "dongguan",
		TrainedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Network:   net,
		Q:         0,
		Scalers:   identityScalers(),
	}
}

func TestForecast_BoundedFeedback(t *testing.T) {
	art := amplifierArtifact(t)
	history := testHistory() // NO2 42 and 45

	out, err := Forecast(art, history, DefaultHorizon)
	require.NoError(t, err)
	require.Len(t, out, DefaultHorizon)

	// The network amplifies its lag input well past the observed range.
	assert.Greater(t, out[0].Prediction, 45.0)

	// Feedback is pinned to the observed NO2 range, so the rollout settles
	// instead of doubling every step.
	for i, pi := range out {
		assert.Less(t, math.Abs(pi.Prediction), 200.0, "step %d", i)
	}
	for i := 1; i < len(out); i++ {
		assert.InDelta(t, out[0].Prediction, out[i].Prediction, 1e-9, "step %d", i)
	}
}

func TestForecast_Errors(t *testing.T) {
	art := testArtifact(t, 4)

	_, err := Forecast(art, testHistory(), 0)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = Forecast(art, testHistory()[:1], 24)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

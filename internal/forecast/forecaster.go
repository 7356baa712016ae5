package forecast

import (
	"fmt"
	"math"
	"time"

	"no2cast/internal/artifact"
	"no2cast/internal/features"
	"no2cast/internal/model"
)

// DefaultHorizon is the standard next-day forecast length in hours.
const DefaultHorizon = 24

// Forecast rolls a calibrated model forward from the last two known
// observations. Each step builds a feature row from the two most recent NO2
// values, the forecast hour's time features, and the most recently observed
// weather variables — held constant across the whole horizon, a deliberate
// simplifying policy. The predicted midpoint is fed back as the next step's
// lag1, so forecast error compounds with the horizon; that is inherent to the
// recursive design.
//
// The fed-back midpoint is limited to the NO2 range observed in history: a
// poorly fit network can emit midpoints far outside the training
// distribution, and feeding those back as lags compounds geometrically across
// the horizon. Reported predictions and bounds are never clamped; only the
// lag state is.
//
// The rollout is a pure function of the artifact and history: calling it for
// horizon h and h+1 yields identical first h steps.
func Forecast(art *artifact.Artifact, history []model.Observation, horizon int) ([]model.PredictionInterval, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon must be positive, got %d", model.ErrInvalidConfig, horizon)
	}
	if len(history) < 2 {
		return nil, fmt.Errorf("%w: forecasting needs at least 2 recent observations, got %d", model.ErrInsufficientData, len(history))
	}

	latest := history[len(history)-1]
	prev := history[len(history)-2]
	lag1 := latest.NO2
	lag2 := prev.NO2

	feedLo, feedHi := history[0].NO2, history[0].NO2
	for _, o := range history[1:] {
		feedLo = math.Min(feedLo, o.NO2)
		feedHi = math.Max(feedHi, o.NO2)
	}

	out := make([]model.PredictionInterval, 0, horizon)
	for i := 0; i < horizon; i++ {
		ts := latest.Timestamp.Add(time.Duration(i+1) * time.Hour)

		row := features.Vector(latest, lag1, lag2, ts)
		scaled := art.Scalers.ApplyRow(row)

		lowerRaw, upperRaw := art.Network.Forward([][]float64{scaled}, false)
		lower := lowerRaw[0] - art.Q
		upper := upperRaw[0] + art.Q
		mid := (lower + upper) / 2

		out = append(out, model.PredictionInterval{
			Timestamp:  ts,
			Prediction: mid,
			LowerBound: lower,
			UpperBound: upper,
		})

		lag2 = lag1
		lag1 = math.Min(math.Max(mid, feedLo), feedHi)
	}
	return out, nil
}

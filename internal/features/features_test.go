package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"no2cast/internal/model"
)

func mkObs(ts time.Time, no2 float64) model.Observation {
	return model.Observation{
		Timestamp:     ts,
		NO2:           no2,
		Temperature:   25,
		Humidity:      70,
		WindSpeed:     10,
		WindDirection: 90,
		Pressure:      1010,
	}
}

func hourlySeries(n int, start time.Time) []model.Observation {
	obs := make([]model.Observation, n)
	for i := range obs {
		obs[i] = mkObs(start.Add(time.Duration(i)*time.Hour), float64(40+i))
	}
	return obs
}

func TestBuild_LagsAndDrop(t *testing.T) {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // a Monday
	obs := hourlySeries(10, start)

	X, y, err := Build(obs)
	require.NoError(t, err)

	// First two rows are dropped for missing lags.
	require.Len(t, X, 8)
	require.Len(t, y, 8)

	// Row 0 corresponds to obs[2]: lag1 = obs[1].NO2, lag2 = obs[0].NO2.
	assert.Equal(t, 41.0, X[0][ColNO2Lag1])
	assert.Equal(t, 40.0, X[0][ColNO2Lag2])
	assert.Equal(t, 42.0, y[0])

	// Last row corresponds to obs[9].
	assert.Equal(t, 48.0, X[7][ColNO2Lag1])
	assert.Equal(t, 47.0, X[7][ColNO2Lag2])
	assert.Equal(t, 49.0, y[7])
}

func TestBuild_InsufficientData(t *testing.T) {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	_, _, err := Build(hourlySeries(4, start))
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestVector_TimeFeatures(t *testing.T) {
	obs := mkObs(time.Time{}, 50)

	monday := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	v := Vector(obs, 41, 40, monday)
	require.Len(t, v, Width)
	assert.Equal(t, 13.0, v[ColHour])
	assert.Equal(t, 0.0, v[ColDayOfWeek])
	assert.Equal(t, 0.0, v[ColIsWeekend])

	saturday := time.Date(2025, 6, 7, 8, 0, 0, 0, time.UTC)
	v = Vector(obs, 41, 40, saturday)
	assert.Equal(t, 8.0, v[ColHour])
	assert.Equal(t, 5.0, v[ColDayOfWeek])
	assert.Equal(t, 1.0, v[ColIsWeekend])

	sunday := time.Date(2025, 6, 8, 23, 0, 0, 0, time.UTC)
	v = Vector(obs, 41, 40, sunday)
	assert.Equal(t, 6.0, v[ColDayOfWeek])
	assert.Equal(t, 1.0, v[ColIsWeekend])
}

func TestVector_WindEncoding(t *testing.T) {
	ts := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		deg      float64
		sin, cos float64
	}{
		{0, 0, 1},
		{90, 1, 0},
		{180, 0, -1},
		{270, -1, 0},
	}
	for _, c := range cases {
		obs := mkObs(ts, 50)
		obs.WindDirection = c.deg
		v := Vector(obs, 0, 0, ts)
		assert.InDelta(t, c.sin, v[ColWindSin], 1e-12, "sin(%v°)", c.deg)
		assert.InDelta(t, c.cos, v[ColWindCos], 1e-12, "cos(%v°)", c.deg)
	}

	// 0° and 360° encode to the same point.
	a := mkObs(ts, 50)
	a.WindDirection = 0
	b := mkObs(ts, 50)
	b.WindDirection = 360
	va := Vector(a, 0, 0, ts)
	vb := Vector(b, 0, 0, ts)
	assert.InDelta(t, va[ColWindSin], vb[ColWindSin], 1e-12)
	assert.InDelta(t, va[ColWindCos], vb[ColWindCos], 1e-12)
}

func TestFitScalerSet(t *testing.T) {
	X := [][]float64{
		make([]float64, Width),
		make([]float64, Width),
		make([]float64, Width),
	}
	for i, temp := range []float64{10, 20, 30} {
		X[i][ColTemperature] = temp
		X[i][ColHumidity] = 70
		X[i][ColWindSpeed] = float64(i)
		X[i][ColPressure] = 1000 + float64(i)
	}

	ss, err := FitScalerSet(X)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, ss.Temperature.Mean, 1e-10)
	// population std of [10,20,30] = sqrt(200/3)
	assert.InDelta(t, math.Sqrt(200.0/3.0), ss.Temperature.Std, 1e-10)

	// Constant column: std guard kicks in.
	assert.Equal(t, 1.0, ss.Humidity.Std)

	scaled := ss.Apply(X)
	assert.InDelta(t, 0.0, scaled[1][ColTemperature], 1e-10)
	assert.Less(t, scaled[0][ColTemperature], 0.0)
	assert.Greater(t, scaled[2][ColTemperature], 0.0)

	// Non-standardized columns are untouched.
	assert.Equal(t, X[0][ColNO2Lag1], scaled[0][ColNO2Lag1])
	assert.Equal(t, X[0][ColHour], scaled[0][ColHour])

	// Apply does not mutate its input.
	assert.Equal(t, 10.0, X[0][ColTemperature])
}

func TestNewSplit(t *testing.T) {
	cases := []struct {
		n                    int
		train, calib, test   float64
		wantTrain, wantCalib int
	}{
		{100, 0.6, 0.3, 0.1, 60, 30},
		{238, 0.6, 0.3, 0.1, 142, 71},
		{10, 0.5, 0.3, 0.2, 5, 3},
	}
	for _, c := range cases {
		s, err := NewSplit(c.n, c.train, c.calib, c.test)
		require.NoError(t, err)

		assert.Equal(t, c.wantTrain, s.TrainSize())
		assert.Equal(t, c.wantCalib, s.CalibSize())

		// Disjoint, contiguous, chronological, covering all rows.
		assert.Equal(t, c.n, s.TrainSize()+s.CalibSize()+s.TestSize())
		assert.Greater(t, s.TrainEnd, 0)
		assert.Greater(t, s.CalibEnd, s.TrainEnd)
		assert.Greater(t, s.N, s.CalibEnd)
	}
}

func TestNewSplit_InvalidRatios(t *testing.T) {
	_, err := NewSplit(100, 0.6, 0.3, 0.2)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = NewSplit(100, 0.6, 0.4, 0.0)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = NewSplit(100, -0.5, 1.0, 0.5)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestNewSplit_TooFewRows(t *testing.T) {
	_, err := NewSplit(3, 0.6, 0.3, 0.1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInsufficientData))
}

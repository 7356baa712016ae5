package features

import (
	"fmt"
	"math"
	"time"

	"no2cast/internal/model"
)

// Feature column layout. The first four columns are standardized with the
// ScalerSet; the rest are used as-is.
const (
	ColTemperature = iota
	ColHumidity
	ColWindSpeed
	ColPressure
	ColWindSin
	ColWindCos
	ColNO2Lag1
	ColNO2Lag2
	ColHour
	ColDayOfWeek
	ColIsWeekend

	// Width is the number of feature columns, i.e. the network input width.
	Width
)

// MinRows is the smallest usable feature table. Anything less cannot be split
// into train/calibration/test.
const MinRows = 3

// Build derives the feature table from a time-ordered observation series for
// one city. The first two rows are dropped because their NO2 lags are
// undefined. The returned X is unscaled; fit a ScalerSet on the training rows
// and apply it before any model sees the data.
func Build(obs []model.Observation) (X [][]float64, y []float64, err error) {
	if len(obs) < MinRows+2 {
		return nil, nil, fmt.Errorf("%w: %d observations, need at least %d", model.ErrInsufficientData, len(obs), MinRows+2)
	}

	n := len(obs) - 2
	X = make([][]float64, n)
	y = make([]float64, n)

	for i := 0; i < n; i++ {
		cur := obs[i+2]
		lag1 := obs[i+1].NO2
		lag2 := obs[i].NO2
		X[i] = Vector(cur, lag1, lag2, cur.Timestamp)
		y[i] = cur.NO2
	}

	return X, y, nil
}

// Vector builds one unscaled feature row from the weather variables of obs,
// the two NO2 lags, and the time features of ts. The forecaster reuses this
// with predicted lags and future timestamps.
func Vector(obs model.Observation, lag1, lag2 float64, ts time.Time) []float64 {
	v := make([]float64, Width)
	v[ColTemperature] = obs.Temperature
	v[ColHumidity] = obs.Humidity
	v[ColWindSpeed] = obs.WindSpeed
	v[ColPressure] = obs.Pressure

	rad := obs.WindDirection * math.Pi / 180
	v[ColWindSin] = math.Sin(rad)
	v[ColWindCos] = math.Cos(rad)

	v[ColNO2Lag1] = lag1
	v[ColNO2Lag2] = lag2

	v[ColHour] = float64(ts.Hour())
	dow := DayOfWeek(ts)
	v[ColDayOfWeek] = float64(dow)
	if dow >= 5 {
		v[ColIsWeekend] = 1
	}
	return v
}

// DayOfWeek maps a timestamp to 0=Monday .. 6=Sunday.
func DayOfWeek(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}

package features

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Scaler is one fitted z-score transform.
type Scaler struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func (s Scaler) Transform(v float64) float64 {
	return (v - s.Mean) / s.Std
}

// ScalerSet holds one fitted transform per standardized feature column. It is
// owned by the training run that produced it, persisted with the model, and
// reused unmodified at calibration/test/inference time.
type ScalerSet struct {
	Temperature Scaler `json:"temperature"`
	Humidity    Scaler `json:"humidity"`
	WindSpeed   Scaler `json:"wind_speed"`
	Pressure    Scaler `json:"pressure"`
}

// scaledColumns maps standardized columns to their scaler.
func (ss *ScalerSet) byColumn() map[int]*Scaler {
	return map[int]*Scaler{
		ColTemperature: &ss.Temperature,
		ColHumidity:    &ss.Humidity,
		ColWindSpeed:   &ss.WindSpeed,
		ColPressure:    &ss.Pressure,
	}
}

// FitScalerSet fits z-score parameters on the rows it is given. Callers must
// pass only the training rows; calibration and test rows reuse the fitted set.
func FitScalerSet(X [][]float64) (ScalerSet, error) {
	var ss ScalerSet
	if len(X) == 0 {
		return ss, fmt.Errorf("fitting scalers on empty feature table")
	}

	for col, scaler := range ss.byColumn() {
		column := make([]float64, len(X))
		for i, row := range X {
			column[i] = row[col]
		}

		mean, err := stats.Mean(column)
		if err != nil {
			return ss, fmt.Errorf("fitting scaler for column %d: %w", col, err)
		}
		std, err := stats.StandardDeviationPopulation(column)
		if err != nil {
			return ss, fmt.Errorf("fitting scaler for column %d: %w", col, err)
		}

		// Guard against zero std.
		if std < 1e-10 {
			std = 1
		}
		*scaler = Scaler{Mean: mean, Std: std}
	}

	return ss, nil
}

// Apply returns a copy of X with the standardized columns transformed.
func (ss *ScalerSet) Apply(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = ss.ApplyRow(row)
	}
	return out
}

// ApplyRow returns a scaled copy of one feature row.
func (ss *ScalerSet) ApplyRow(row []float64) []float64 {
	scaled := make([]float64, len(row))
	copy(scaled, row)
	for col, scaler := range ss.byColumn() {
		scaled[col] = scaler.Transform(row[col])
	}
	return scaled
}

package model

import "time"

// Observation is one hourly record for a city: the NO2 concentration plus the
// weather variables measured at the same instant.
type Observation struct {
	Timestamp     time.Time `json:"observation_time"`
	NO2           float64   `json:"no2"`            // μg/m³
	Temperature   float64   `json:"temperature"`    // °C
	Humidity      float64   `json:"humidity"`       // %
	WindSpeed     float64   `json:"wind_speed"`     // km/h
	WindDirection float64   `json:"wind_direction"` // degrees, [0, 360)
	Pressure      float64   `json:"pressure"`       // hPa
}

// PredictionInterval is one forecast hour: the calibrated bounds and their
// midpoint, which is the reported point forecast.
type PredictionInterval struct {
	Timestamp  time.Time `json:"observation_time"`
	Prediction float64   `json:"prediction"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
}

// TimeRange is a closed interval of observation timestamps.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

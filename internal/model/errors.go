package model

import "errors"

// Sentinel errors for the forecasting engine. Callers match with errors.Is;
// wrapped messages carry the offending detail (row counts, file paths,
// epoch/batch attribution).
var (
	// ErrInsufficientData: fewer usable rows than required after lag-dropping
	// or split sizing. Training aborts.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidConfig: split ratios not summing to 1, non-positive
	// epochs/batch size and similar. Rejected before any computation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrModelNotFound: no artifact file at the given path.
	ErrModelNotFound = errors.New("model not found")

	// ErrCorruptArtifact: artifact file exists but is missing a required
	// field. The model is never partially initialized.
	ErrCorruptArtifact = errors.New("corrupt model artifact")
)

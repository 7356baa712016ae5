package artifact

import (
	"time"

	"no2cast/internal/features"
	"no2cast/internal/predictor"
)

// Artifact is one trained, calibrated model for one city. Immutable once
// saved; the next day's retraining supersedes it with a new file rather than
// mutating this one.
type Artifact struct {
	City      string
	TrainedAt time.Time
	Network   *predictor.QuantileNet
	Q         float64
	Scalers   features.ScalerSet
}

package predictor

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"no2cast/internal/model"
)

// DefaultAlpha is the target miscoverage for 95% intervals.
const DefaultAlpha = 0.05

// Calibration is the split-conformal result for a trained network.
type Calibration struct {
	// Q is the symmetric widening offset applied to the raw interval.
	Q float64 `json:"q"`
	// QuantileLevel is the finite-sample-corrected level Q was read at.
	QuantileLevel float64 `json:"quantile_level"`
	// ViolationRate is the calibration-set fraction of scores above Q. It
	// should track alpha within a few points; a large deviation signals a
	// modeling or data problem but is not itself fatal.
	ViolationRate float64 `json:"violation_rate"`
	// Anomaly marks a violation rate far from alpha.
	Anomaly   bool `json:"anomaly"`
	CalibSize int  `json:"calib_size"`
}

// Calibrate computes the conformal offset from a calibration split the
// network never trained on. The per-sample nonconformity score is
// max(lower−y, y−upper); Q is read at the finite-sample-corrected level
// min(1, (1−α)(n+1)/n), which is what carries the marginal coverage
// guarantee — the naive (1−α) quantile does not.
func Calibrate(net *QuantileNet, X [][]float64, y []float64, alpha float64) (Calibration, error) {
	if alpha <= 0 || alpha >= 1 {
		return Calibration{}, fmt.Errorf("%w: alpha must be in (0, 1), got %g", model.ErrInvalidConfig, alpha)
	}
	n := len(X)
	if n < 1 {
		return Calibration{}, fmt.Errorf("%w: empty calibration split", model.ErrInsufficientData)
	}

	lower, upper := net.Forward(X, false)
	scores := make([]float64, n)
	for i := range scores {
		s := lower[i] - y[i]
		if d := y[i] - upper[i]; d > s {
			s = d
		}
		scores[i] = s
	}

	level := (1 - alpha) * float64(n+1) / float64(n)
	if level > 1 {
		level = 1
	}

	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Float64s(sorted)
	q := quantileLinear(sorted, level)

	violations := 0
	for _, s := range scores {
		if s > q {
			violations++
		}
	}
	rate := float64(violations) / float64(n)

	return Calibration{
		Q:             q,
		QuantileLevel: level,
		ViolationRate: rate,
		Anomaly:       rate > alpha+0.05,
		CalibSize:     n,
	}, nil
}

// quantileLinear reads the q-quantile of a sorted slice with linear
// interpolation between order statistics. Kept local for behavioral parity
// with the calibration math; library percentile helpers interpolate
// differently and would shift Q.
func quantileLinear(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(pos)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Evaluation is the held-out test report for a calibrated model.
type Evaluation struct {
	Coverage         float64 `json:"coverage"`
	AvgIntervalWidth float64 `json:"avg_interval_width"`
	TestSamples      int     `json:"test_samples"`
}

// Evaluate scores the calibrated intervals on a test split: empirical
// coverage of [lower−Q, upper+Q] and the average interval width.
func Evaluate(net *QuantileNet, X [][]float64, y []float64, q float64) (Evaluation, error) {
	n := len(X)
	if n < 1 {
		return Evaluation{}, fmt.Errorf("%w: empty test split", model.ErrInsufficientData)
	}

	lower, upper := net.Forward(X, false)
	covered := 0
	widths := make([]float64, n)
	for i := range X {
		lo := lower[i] - q
		hi := upper[i] + q
		if y[i] >= lo && y[i] <= hi {
			covered++
		}
		widths[i] = hi - lo
	}

	avgWidth, err := stats.Mean(widths)
	if err != nil {
		return Evaluation{}, fmt.Errorf("computing interval width: %w", err)
	}

	return Evaluation{
		Coverage:         float64(covered) / float64(n),
		AvgIntervalWidth: avgWidth,
		TestSamples:      n,
	}, nil
}

package features

import (
	"fmt"
	"math"

	"no2cast/internal/model"
)

// Split is an ordered, non-overlapping partition of the feature table into
// train / calibration / test index ranges, in chronological order:
// [0, TrainEnd), [TrainEnd, CalibEnd), [CalibEnd, N).
type Split struct {
	TrainEnd int
	CalibEnd int
	N        int
}

func (s Split) TrainSize() int { return s.TrainEnd }
func (s Split) CalibSize() int { return s.CalibEnd - s.TrainEnd }
func (s Split) TestSize() int  { return s.N - s.CalibEnd }

// NewSplit partitions n rows by the given ratios. The ratios must sum to 1.
// The train range gets floor(n*trainRatio) rows, calibration
// floor(n*calibRatio), and test the remainder, preserving time order.
func NewSplit(n int, trainRatio, calibRatio, testRatio float64) (Split, error) {
	if trainRatio <= 0 || calibRatio <= 0 || testRatio <= 0 {
		return Split{}, fmt.Errorf("%w: split ratios must be positive, got %.2f/%.2f/%.2f",
			model.ErrInvalidConfig, trainRatio, calibRatio, testRatio)
	}
	if sum := trainRatio + calibRatio + testRatio; math.Abs(sum-1.0) > 1e-6 {
		return Split{}, fmt.Errorf("%w: split ratios must sum to 1.0, got %.4f", model.ErrInvalidConfig, sum)
	}

	nTrain := int(float64(n) * trainRatio)
	nCalib := int(float64(n) * calibRatio)
	nTest := n - nTrain - nCalib

	if nTrain < 2 || nCalib < 1 || nTest < 1 {
		return Split{}, fmt.Errorf("%w: %d rows split into train=%d calib=%d test=%d",
			model.ErrInsufficientData, n, nTrain, nCalib, nTest)
	}

	return Split{TrainEnd: nTrain, CalibEnd: nTrain + nCalib, N: n}, nil
}

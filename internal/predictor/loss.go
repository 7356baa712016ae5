package predictor

// Nominal quantiles of the two heads.
const (
	TauLow  = 0.025
	TauHigh = 0.975
)

// BatchLoss is the decomposed training objective for one batch.
type BatchLoss struct {
	Total    float64
	Lower    float64
	Upper    float64
	Crossing float64
}

// pinballLoss is the quantile (pinball) loss mean(max((τ−1)·e, τ·e)) with
// e = target − pred. Its minimizer is the target's τ-quantile.
func pinballLoss(pred, target []float64, tau float64) float64 {
	var sum float64
	for i := range pred {
		e := target[i] - pred[i]
		a := (tau - 1) * e
		b := tau * e
		if a > b {
			sum += a
		} else {
			sum += b
		}
	}
	return sum / float64(len(pred))
}

// crossingPenalty is mean(relu(lower − upper)): positive only where the lower
// head predicts above the upper head.
func crossingPenalty(lower, upper []float64) float64 {
	var sum float64
	for i := range lower {
		if d := lower[i] - upper[i]; d > 0 {
			sum += d
		}
	}
	return sum / float64(len(lower))
}

// quantileLoss evaluates the full non-crossing objective
//
//	L = pinball(lower, y, τ_lo) + pinball(upper, y, τ_hi) + λ·mean(relu(lower−upper))
//
// and its mean-reduced gradients w.r.t. both head outputs.
func quantileLoss(lower, upper, target []float64, lambda float64) (BatchLoss, []float64, []float64) {
	n := float64(len(target))
	loss := BatchLoss{
		Lower:    pinballLoss(lower, target, TauLow),
		Upper:    pinballLoss(upper, target, TauHigh),
		Crossing: crossingPenalty(lower, upper),
	}
	loss.Total = loss.Lower + loss.Upper + lambda*loss.Crossing

	dLower := make([]float64, len(target))
	dUpper := make([]float64, len(target))
	for i := range target {
		// Pinball subgradient: d/dpred = −τ when e ≥ 0, (1−τ) when e < 0.
		if target[i]-lower[i] >= 0 {
			dLower[i] = -TauLow / n
		} else {
			dLower[i] = (1 - TauLow) / n
		}
		if target[i]-upper[i] >= 0 {
			dUpper[i] = -TauHigh / n
		} else {
			dUpper[i] = (1 - TauHigh) / n
		}

		if lower[i] > upper[i] {
			dLower[i] += lambda / n
			dUpper[i] -= lambda / n
		}
	}
	return loss, dLower, dUpper
}

package predictor

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ArchConfig describes the network shape. It is both the constructor argument
// and the serialized record, so a saved model can be rebuilt without
// inspecting live network internals.
type ArchConfig struct {
	InputDim    int   `json:"input_dim"`
	HiddenDims  []int `json:"hidden_dims"`
	UseResidual bool  `json:"use_residual"`
}

func (a ArchConfig) validate() error {
	if a.InputDim < 1 {
		return fmt.Errorf("input_dim must be positive, got %d", a.InputDim)
	}
	if len(a.HiddenDims) == 0 {
		return fmt.Errorf("at least one hidden layer is required")
	}
	for _, h := range a.HiddenDims {
		if h < 1 {
			return fmt.Errorf("hidden dims must be positive, got %v", a.HiddenDims)
		}
	}
	return nil
}

// dense is a fully-connected layer.
type dense struct {
	weights [][]float64 // [out][in]
	biases  []float64

	// Adam optimizer state.
	mW, vW [][]float64
	mB, vB []float64

	// Gradients and cached batch input for backprop.
	dW    [][]float64
	dB    []float64
	input [][]float64
}

// newDense creates a layer with He initialization; a nil rng leaves the
// weights zero for loading a saved state over them.
func newDense(in, out int, rng *rand.Rand) *dense {
	d := &dense{
		weights: makeMatrix(out, in),
		biases:  make([]float64, out),
		mW:      makeMatrix(out, in),
		vW:      makeMatrix(out, in),
		mB:      make([]float64, out),
		vB:      make([]float64, out),
		dW:      makeMatrix(out, in),
		dB:      make([]float64, out),
	}
	if rng != nil {
		stddev := math.Sqrt(2.0 / float64(in)) // He init
		for j := 0; j < out; j++ {
			for k := 0; k < in; k++ {
				d.weights[j][k] = rng.NormFloat64() * stddev
			}
		}
	}
	return d
}

func (d *dense) forward(x [][]float64) [][]float64 {
	d.input = x
	out := len(d.weights)
	y := make([][]float64, len(x))
	for i, row := range x {
		y[i] = make([]float64, out)
		for j := 0; j < out; j++ {
			sum := d.biases[j]
			for k, w := range d.weights[j] {
				sum += w * row[k]
			}
			y[i][j] = sum
		}
	}
	return y
}

func (d *dense) backward(dOut [][]float64) [][]float64 {
	out := len(d.weights)
	in := len(d.weights[0])

	dX := make([][]float64, len(dOut))
	for i := range dOut {
		dX[i] = make([]float64, in)
		for j := 0; j < out; j++ {
			g := dOut[i][j]
			d.dB[j] += g
			for k := 0; k < in; k++ {
				d.dW[j][k] += g * d.input[i][k]
				dX[i][k] += g * d.weights[j][k]
			}
		}
	}
	return dX
}

func (d *dense) zeroGrad() {
	for j := range d.dW {
		for k := range d.dW[j] {
			d.dW[j][k] = 0
		}
		d.dB[j] = 0
	}
}

func (d *dense) adamStep(cfg TrainConfig, step int) {
	c1 := 1 - math.Pow(cfg.Beta1, float64(step))
	c2 := 1 - math.Pow(cfg.Beta2, float64(step))
	for j := range d.weights {
		for k := range d.weights[j] {
			d.mW[j][k] = cfg.Beta1*d.mW[j][k] + (1-cfg.Beta1)*d.dW[j][k]
			d.vW[j][k] = cfg.Beta2*d.vW[j][k] + (1-cfg.Beta2)*d.dW[j][k]*d.dW[j][k]
			d.weights[j][k] -= cfg.LearningRate * (d.mW[j][k] / c1) / (math.Sqrt(d.vW[j][k]/c2) + cfg.Epsilon)
		}
		d.mB[j] = cfg.Beta1*d.mB[j] + (1-cfg.Beta1)*d.dB[j]
		d.vB[j] = cfg.Beta2*d.vB[j] + (1-cfg.Beta2)*d.dB[j]*d.dB[j]
		d.biases[j] -= cfg.LearningRate * (d.mB[j] / c1) / (math.Sqrt(d.vB[j]/c2) + cfg.Epsilon)
	}
}

const (
	bnEpsilon  = 1e-5
	bnMomentum = 0.1
)

// batchNorm normalizes each feature over the batch in training mode and with
// running statistics in eval mode. Running stats are part of the model state
// and are serialized with the weights.
type batchNorm struct {
	gamma, beta             []float64
	runningMean, runningVar []float64

	// Adam optimizer state.
	mG, vG, mBt, vBt []float64

	// Gradients and backprop caches.
	dGamma, dBeta []float64
	xhat          [][]float64
	invStd        []float64
}

func newBatchNorm(dim int) *batchNorm {
	bn := &batchNorm{
		gamma:       make([]float64, dim),
		beta:        make([]float64, dim),
		runningMean: make([]float64, dim),
		runningVar:  make([]float64, dim),
		mG:          make([]float64, dim),
		vG:          make([]float64, dim),
		mBt:         make([]float64, dim),
		vBt:         make([]float64, dim),
		dGamma:      make([]float64, dim),
		dBeta:       make([]float64, dim),
	}
	for j := range bn.gamma {
		bn.gamma[j] = 1
		bn.runningVar[j] = 1
	}
	return bn
}

func (bn *batchNorm) forward(x [][]float64, training bool) [][]float64 {
	n := len(x)
	dim := len(bn.gamma)
	y := make([][]float64, n)
	for i := range y {
		y[i] = make([]float64, dim)
	}

	if !training {
		for j := 0; j < dim; j++ {
			invStd := 1 / math.Sqrt(bn.runningVar[j]+bnEpsilon)
			for i := 0; i < n; i++ {
				y[i][j] = bn.gamma[j]*(x[i][j]-bn.runningMean[j])*invStd + bn.beta[j]
			}
		}
		return y
	}

	bn.xhat = make([][]float64, n)
	for i := range bn.xhat {
		bn.xhat[i] = make([]float64, dim)
	}
	bn.invStd = make([]float64, dim)

	for j := 0; j < dim; j++ {
		var mean float64
		for i := 0; i < n; i++ {
			mean += x[i][j]
		}
		mean /= float64(n)

		var variance float64
		for i := 0; i < n; i++ {
			d := x[i][j] - mean
			variance += d * d
		}
		variance /= float64(n)

		invStd := 1 / math.Sqrt(variance+bnEpsilon)
		bn.invStd[j] = invStd
		for i := 0; i < n; i++ {
			xhat := (x[i][j] - mean) * invStd
			bn.xhat[i][j] = xhat
			y[i][j] = bn.gamma[j]*xhat + bn.beta[j]
		}

		// Running stats track the unbiased batch variance.
		unbiased := variance
		if n > 1 {
			unbiased = variance * float64(n) / float64(n-1)
		}
		bn.runningMean[j] = (1-bnMomentum)*bn.runningMean[j] + bnMomentum*mean
		bn.runningVar[j] = (1-bnMomentum)*bn.runningVar[j] + bnMomentum*unbiased
	}
	return y
}

func (bn *batchNorm) backward(dOut [][]float64) [][]float64 {
	n := len(dOut)
	dim := len(bn.gamma)
	dX := make([][]float64, n)
	for i := range dX {
		dX[i] = make([]float64, dim)
	}

	for j := 0; j < dim; j++ {
		var sumD, sumDXhat float64
		for i := 0; i < n; i++ {
			sumD += dOut[i][j]
			sumDXhat += dOut[i][j] * bn.xhat[i][j]
		}
		bn.dBeta[j] += sumD
		bn.dGamma[j] += sumDXhat

		scale := bn.gamma[j] * bn.invStd[j] / float64(n)
		for i := 0; i < n; i++ {
			dX[i][j] = scale * (float64(n)*dOut[i][j] - sumD - bn.xhat[i][j]*sumDXhat)
		}
	}
	return dX
}

func (bn *batchNorm) zeroGrad() {
	for j := range bn.dGamma {
		bn.dGamma[j] = 0
		bn.dBeta[j] = 0
	}
}

func (bn *batchNorm) adamStep(cfg TrainConfig, step int) {
	c1 := 1 - math.Pow(cfg.Beta1, float64(step))
	c2 := 1 - math.Pow(cfg.Beta2, float64(step))
	for j := range bn.gamma {
		bn.mG[j] = cfg.Beta1*bn.mG[j] + (1-cfg.Beta1)*bn.dGamma[j]
		bn.vG[j] = cfg.Beta2*bn.vG[j] + (1-cfg.Beta2)*bn.dGamma[j]*bn.dGamma[j]
		bn.gamma[j] -= cfg.LearningRate * (bn.mG[j] / c1) / (math.Sqrt(bn.vG[j]/c2) + cfg.Epsilon)

		bn.mBt[j] = cfg.Beta1*bn.mBt[j] + (1-cfg.Beta1)*bn.dBeta[j]
		bn.vBt[j] = cfg.Beta2*bn.vBt[j] + (1-cfg.Beta2)*bn.dBeta[j]*bn.dBeta[j]
		bn.beta[j] -= cfg.LearningRate * (bn.mBt[j] / c1) / (math.Sqrt(bn.vBt[j]/c2) + cfg.Epsilon)
	}
}

func relu(x [][]float64) (out [][]float64, mask [][]bool) {
	out = make([][]float64, len(x))
	mask = make([][]bool, len(x))
	for i, row := range x {
		out[i] = make([]float64, len(row))
		mask[i] = make([]bool, len(row))
		for j, v := range row {
			if v > 0 {
				out[i][j] = v
				mask[i][j] = true
			}
		}
	}
	return out, mask
}

func reluBackward(dOut [][]float64, mask [][]bool) [][]float64 {
	dX := make([][]float64, len(dOut))
	for i, row := range dOut {
		dX[i] = make([]float64, len(row))
		for j, g := range row {
			if mask[i][j] {
				dX[i][j] = g
			}
		}
	}
	return dX
}

// block is one trunk stage. Plain form is Linear → ReLU → BatchNorm.
// Residual form stacks two of those and adds a shortcut: identity when the
// widths match, a linear projection otherwise.
type block struct {
	residual bool

	lin1     *dense
	bn1      *batchNorm
	lin2     *dense     // residual only
	bn2      *batchNorm // residual only
	shortcut *dense     // residual only; nil means identity

	mask1, mask2 [][]bool
	input        [][]float64
}

func newBlock(in, out int, residual bool, rng *rand.Rand) *block {
	b := &block{
		residual: residual,
		lin1:     newDense(in, out, rng),
		bn1:      newBatchNorm(out),
	}
	if residual {
		b.lin2 = newDense(out, out, rng)
		b.bn2 = newBatchNorm(out)
		if in != out {
			b.shortcut = newDense(in, out, rng)
		}
	}
	return b
}

func (b *block) forward(x [][]float64, training bool) [][]float64 {
	b.input = x

	h, mask := relu(b.lin1.forward(x))
	b.mask1 = mask
	h = b.bn1.forward(h, training)

	if !b.residual {
		return h
	}

	h, mask = relu(b.lin2.forward(h))
	b.mask2 = mask
	h = b.bn2.forward(h, training)

	res := x
	if b.shortcut != nil {
		res = b.shortcut.forward(x)
	}
	out := make([][]float64, len(h))
	for i := range h {
		out[i] = make([]float64, len(h[i]))
		for j := range h[i] {
			out[i][j] = h[i][j] + res[i][j]
		}
	}
	return out
}

func (b *block) backward(dOut [][]float64) [][]float64 {
	if !b.residual {
		d := b.bn1.backward(dOut)
		d = reluBackward(d, b.mask1)
		return b.lin1.backward(d)
	}

	d := b.bn2.backward(dOut)
	d = reluBackward(d, b.mask2)
	d = b.lin2.backward(d)
	d = b.bn1.backward(d)
	d = reluBackward(d, b.mask1)
	d = b.lin1.backward(d)

	var dRes [][]float64
	if b.shortcut != nil {
		dRes = b.shortcut.backward(dOut)
	} else {
		dRes = dOut
	}
	for i := range d {
		for j := range d[i] {
			d[i][j] += dRes[i][j]
		}
	}
	return d
}

func (b *block) zeroGrad() {
	b.lin1.zeroGrad()
	b.bn1.zeroGrad()
	if b.residual {
		b.lin2.zeroGrad()
		b.bn2.zeroGrad()
		if b.shortcut != nil {
			b.shortcut.zeroGrad()
		}
	}
}

func (b *block) adamStep(cfg TrainConfig, step int) {
	b.lin1.adamStep(cfg, step)
	b.bn1.adamStep(cfg, step)
	if b.residual {
		b.lin2.adamStep(cfg, step)
		b.bn2.adamStep(cfg, step)
		if b.shortcut != nil {
			b.shortcut.adamStep(cfg, step)
		}
	}
}

// QuantileNet is the dual-quantile network: a shared trunk of blocks feeding
// two independent single-output linear heads. The raw head outputs are
// unconstrained; crossing is penalized during training, not structurally
// prevented.
type QuantileNet struct {
	arch   ArchConfig
	blocks []*block
	lower  *dense
	upper  *dense
}

// NewQuantileNet builds a network with He-initialized weights drawn from rng.
func NewQuantileNet(arch ArchConfig, rng *rand.Rand) (*QuantileNet, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}

	n := &QuantileNet{arch: arch}
	prev := arch.InputDim
	for _, h := range arch.HiddenDims {
		n.blocks = append(n.blocks, newBlock(prev, h, arch.UseResidual, rng))
		prev = h
	}
	n.lower = newDense(prev, 1, rng)
	n.upper = newDense(prev, 1, rng)
	return n, nil
}

// Arch returns the network's architecture record.
func (n *QuantileNet) Arch() ArchConfig { return n.arch }

// Forward runs a batch through the trunk and both heads. training selects
// batch statistics vs running statistics in the normalization layers.
func (n *QuantileNet) Forward(X [][]float64, training bool) (lower, upper []float64) {
	h := X
	for _, b := range n.blocks {
		h = b.forward(h, training)
	}
	lowCol := n.lower.forward(h)
	upCol := n.upper.forward(h)

	lower = make([]float64, len(X))
	upper = make([]float64, len(X))
	for i := range X {
		lower[i] = lowCol[i][0]
		upper[i] = upCol[i][0]
	}
	return lower, upper
}

// backward propagates per-head output gradients through the whole network.
// Must be called after a training-mode Forward on the same batch.
func (n *QuantileNet) backward(dLower, dUpper []float64) {
	dLowCol := make([][]float64, len(dLower))
	dUpCol := make([][]float64, len(dUpper))
	for i := range dLower {
		dLowCol[i] = []float64{dLower[i]}
		dUpCol[i] = []float64{dUpper[i]}
	}

	dLow := n.lower.backward(dLowCol)
	dUp := n.upper.backward(dUpCol)

	d := make([][]float64, len(dLow))
	for i := range dLow {
		d[i] = make([]float64, len(dLow[i]))
		for j := range dLow[i] {
			d[i][j] = dLow[i][j] + dUp[i][j]
		}
	}
	for i := len(n.blocks) - 1; i >= 0; i-- {
		d = n.blocks[i].backward(d)
	}
}

func (n *QuantileNet) zeroGrad() {
	for _, b := range n.blocks {
		b.zeroGrad()
	}
	n.lower.zeroGrad()
	n.upper.zeroGrad()
}

func (n *QuantileNet) adamStep(cfg TrainConfig, step int) {
	for _, b := range n.blocks {
		b.adamStep(cfg, step)
	}
	n.lower.adamStep(cfg, step)
	n.upper.adamStep(cfg, step)
}

func makeMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

package predictor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DenseState is the serialized form of one fully-connected layer.
type DenseState struct {
	Weights [][]float64 `json:"weights"` // [out][in]
	Biases  []float64   `json:"biases"`
}

// NormState is the serialized form of one batch-norm layer, including the
// running statistics needed for eval-mode inference.
type NormState struct {
	Gamma       []float64 `json:"gamma"`
	Beta        []float64 `json:"beta"`
	RunningMean []float64 `json:"running_mean"`
	RunningVar  []float64 `json:"running_var"`
}

// NetState holds every parameter tensor of a QuantileNet in fixed traversal
// order: trunk blocks first (lin1, [lin2, shortcut]), then the lower and
// upper heads; norms in the same block order. Together with ArchConfig it
// fully reconstructs the network.
type NetState struct {
	Dense []DenseState `json:"dense"`
	Norms []NormState  `json:"norms"`
}

// State exports the network's parameters.
func (n *QuantileNet) State() NetState {
	var st NetState
	for _, b := range n.blocks {
		st.Dense = append(st.Dense, denseState(b.lin1))
		st.Norms = append(st.Norms, normState(b.bn1))
		if b.residual {
			st.Dense = append(st.Dense, denseState(b.lin2))
			st.Norms = append(st.Norms, normState(b.bn2))
			if b.shortcut != nil {
				st.Dense = append(st.Dense, denseState(b.shortcut))
			}
		}
	}
	st.Dense = append(st.Dense, denseState(n.lower), denseState(n.upper))
	return st
}

// LoadNet rebuilds a network of the exact shape described by arch and installs
// the saved parameters. The state must match the architecture tensor for
// tensor; any mismatch fails without partially initializing the network.
func LoadNet(arch ArchConfig, st NetState) (*QuantileNet, error) {
	n, err := NewQuantileNet(arch, nil)
	if err != nil {
		return nil, err
	}

	var denseIdx, normIdx int
	takeDense := func(d *dense) error {
		if denseIdx >= len(st.Dense) {
			return fmt.Errorf("network state has %d dense layers, architecture needs more", len(st.Dense))
		}
		if err := installDense(d, st.Dense[denseIdx]); err != nil {
			return fmt.Errorf("dense layer %d: %w", denseIdx, err)
		}
		denseIdx++
		return nil
	}
	takeNorm := func(bn *batchNorm) error {
		if normIdx >= len(st.Norms) {
			return fmt.Errorf("network state has %d norm layers, architecture needs more", len(st.Norms))
		}
		if err := installNorm(bn, st.Norms[normIdx]); err != nil {
			return fmt.Errorf("norm layer %d: %w", normIdx, err)
		}
		normIdx++
		return nil
	}

	for _, b := range n.blocks {
		if err := takeDense(b.lin1); err != nil {
			return nil, err
		}
		if err := takeNorm(b.bn1); err != nil {
			return nil, err
		}
		if b.residual {
			if err := takeDense(b.lin2); err != nil {
				return nil, err
			}
			if err := takeNorm(b.bn2); err != nil {
				return nil, err
			}
			if b.shortcut != nil {
				if err := takeDense(b.shortcut); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := takeDense(n.lower); err != nil {
		return nil, err
	}
	if err := takeDense(n.upper); err != nil {
		return nil, err
	}

	if denseIdx != len(st.Dense) || normIdx != len(st.Norms) {
		return nil, fmt.Errorf("network state has %d dense / %d norm layers, architecture uses %d / %d",
			len(st.Dense), len(st.Norms), denseIdx, normIdx)
	}
	return n, nil
}

func denseState(d *dense) DenseState {
	return DenseState{Weights: d.weights, Biases: d.biases}
}

func normState(bn *batchNorm) NormState {
	return NormState{
		Gamma:       bn.gamma,
		Beta:        bn.beta,
		RunningMean: bn.runningMean,
		RunningVar:  bn.runningVar,
	}
}

func installDense(d *dense, st DenseState) error {
	if len(st.Weights) != len(d.weights) || len(st.Biases) != len(d.biases) {
		return fmt.Errorf("expected %dx%d weights, got %dx?", len(d.weights), len(d.weights[0]), len(st.Weights))
	}
	for j := range st.Weights {
		if len(st.Weights[j]) != len(d.weights[j]) {
			return fmt.Errorf("expected %d inputs at row %d, got %d", len(d.weights[j]), j, len(st.Weights[j]))
		}
	}
	d.weights = st.Weights
	d.biases = st.Biases
	return nil
}

func installNorm(bn *batchNorm, st NormState) error {
	dim := len(bn.gamma)
	if len(st.Gamma) != dim || len(st.Beta) != dim || len(st.RunningMean) != dim || len(st.RunningVar) != dim {
		return fmt.Errorf("expected %d features, got gamma=%d beta=%d mean=%d var=%d",
			dim, len(st.Gamma), len(st.Beta), len(st.RunningMean), len(st.RunningVar))
	}
	bn.gamma = st.Gamma
	bn.beta = st.Beta
	bn.runningMean = st.RunningMean
	bn.runningVar = st.RunningVar
	return nil
}

// WeightsHash returns the SHA-256 of the serialized parameters, used to verify
// bit-identical training runs.
func (n *QuantileNet) WeightsHash() string {
	data, err := json.Marshal(n.State())
	if err != nil {
		// State marshals plain float slices; this cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

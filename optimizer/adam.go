package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-autoencoder/checkpoints"
	"github.com/tsawler/go-autoencoder/tensor"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and
// second moment estimates, updating parameter tensors in place.
type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	params    []*tensor.Tensor
	momentum  []*tensor.Tensor
	variance  []*tensor.Tensor
	stepCount uint64
}

// NewAdam creates an Adam optimizer over the given parameter tensors.
func NewAdam(config AdamConfig, params []*tensor.Tensor) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}

	adam := &Adam{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		params:       params,
		momentum:     make([]*tensor.Tensor, len(params)),
		variance:     make([]*tensor.Tensor, len(params)),
	}

	for i, p := range params {
		m, err := tensor.Zeros(p.Shape, p.DType, p.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate momentum for parameter %d: %v", i, err)
		}
		v, err := tensor.Zeros(p.Shape, p.DType, p.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate variance for parameter %d: %v", i, err)
		}
		adam.momentum[i] = m
		adam.variance[i] = v
	}

	return adam, nil
}

// Step performs a single Adam optimization step. Parameters with no
// accumulated gradient are skipped.
func (adam *Adam) Step() error {
	adam.stepCount++

	bc1 := 1 - float32(math.Pow(float64(adam.Beta1), float64(adam.stepCount)))
	bc2 := 1 - float32(math.Pow(float64(adam.Beta2), float64(adam.stepCount)))

	for i, p := range adam.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("gradient size %d does not match parameter %d size %d",
				grad.NumElems, i, p.NumElems)
		}

		m := adam.momentum[i].Data
		v := adam.variance[i].Data
		for j := range p.Data {
			g := grad.Data[j]
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * p.Data[j]
			}

			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g

			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= adam.LearningRate * mHat / (float32(math.Sqrt(float64(vHat))) + adam.Epsilon)
		}
	}

	return nil
}

// ZeroGrad clears accumulated gradients on all parameters.
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.params)
}

// GetStepCount returns the current step count.
func (adam *Adam) GetStepCount() uint64 {
	return adam.stepCount
}

// UpdateLearningRate updates the learning rate.
func (adam *Adam) UpdateLearningRate(lr float32) {
	adam.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing.
func (adam *Adam) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.stepCount,
		},
	}

	for i := range adam.params {
		mData := make([]float32, adam.momentum[i].NumElems)
		copy(mData, adam.momentum[i].Data)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     append([]int(nil), adam.momentum[i].Shape...),
			Data:      mData,
			StateType: "momentum",
		})

		vData := make([]float32, adam.variance[i].NumElems)
		copy(vData, adam.variance[i].Data)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("variance_%d", i),
			Shape:     append([]int(nil), adam.variance[i].Shape...),
			Data:      vData,
			StateType: "variance",
		})
	}

	return state, nil
}

// LoadState restores optimizer state from a checkpoint.
func (adam *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	if sc, ok := state.Parameters["step_count"]; ok {
		switch v := sc.(type) {
		case uint64:
			adam.stepCount = v
		case float64:
			adam.stepCount = uint64(v)
		}
	}

	for _, st := range state.StateData {
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("state tensor %s references unknown parameter index", st.Name)
		}

		var dst *tensor.Tensor
		switch st.StateType {
		case "momentum":
			dst = adam.momentum[idx]
		case "variance":
			dst = adam.variance[idx]
		default:
			return fmt.Errorf("unknown state type %q for %s", st.StateType, st.Name)
		}

		if len(st.Data) != dst.NumElems {
			return fmt.Errorf("state tensor %s has %d elements, expected %d",
				st.Name, len(st.Data), dst.NumElems)
		}
		copy(dst.Data, st.Data)
	}

	return nil
}

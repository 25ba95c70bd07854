package optimizer

import (
	"fmt"

	"github.com/tsawler/go-autoencoder/checkpoints"
	"github.com/tsawler/go-autoencoder/tensor"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// DefaultSGDConfig returns default SGD configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
		WeightDecay:  0.0,
	}
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32

	params    []*tensor.Tensor
	velocity  []*tensor.Tensor
	stepCount uint64
}

// NewSGD creates an SGD optimizer over the given parameter tensors.
func NewSGD(config SGDConfig, params []*tensor.Tensor) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}

	sgd := &SGD{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		params:       params,
	}

	if config.Momentum != 0 {
		sgd.velocity = make([]*tensor.Tensor, len(params))
		for i, p := range params {
			v, err := tensor.Zeros(p.Shape, p.DType, p.Device)
			if err != nil {
				return nil, fmt.Errorf("failed to allocate velocity for parameter %d: %v", i, err)
			}
			sgd.velocity[i] = v
		}
	}

	return sgd, nil
}

// Step performs a single SGD update.
func (sgd *SGD) Step() error {
	sgd.stepCount++

	for i, p := range sgd.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("gradient size %d does not match parameter %d size %d",
				grad.NumElems, i, p.NumElems)
		}

		for j := range p.Data {
			g := grad.Data[j]
			if sgd.WeightDecay != 0 {
				g += sgd.WeightDecay * p.Data[j]
			}

			if sgd.velocity != nil {
				v := sgd.velocity[i].Data
				v[j] = sgd.Momentum*v[j] + g
				g = v[j]
			}
			p.Data[j] -= sgd.LearningRate * g
		}
	}

	return nil
}

// ZeroGrad clears accumulated gradients on all parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.params)
}

// GetStepCount returns the current step count.
func (sgd *SGD) GetStepCount() uint64 {
	return sgd.stepCount
}

// UpdateLearningRate updates the learning rate.
func (sgd *SGD) UpdateLearningRate(lr float32) {
	sgd.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing.
func (sgd *SGD) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"step_count":    sgd.stepCount,
		},
	}

	for i := range sgd.velocity {
		vData := make([]float32, sgd.velocity[i].NumElems)
		copy(vData, sgd.velocity[i].Data)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("velocity_%d", i),
			Shape:     append([]int(nil), sgd.velocity[i].Shape...),
			Data:      vData,
			StateType: "velocity",
		})
	}

	return state, nil
}

// LoadState restores optimizer state from a checkpoint.
func (sgd *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	if sc, ok := state.Parameters["step_count"]; ok {
		switch v := sc.(type) {
		case uint64:
			sgd.stepCount = v
		case float64:
			sgd.stepCount = uint64(v)
		}
	}

	for _, st := range state.StateData {
		if st.StateType != "velocity" {
			return fmt.Errorf("unknown state type %q for %s", st.StateType, st.Name)
		}

		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(sgd.velocity) {
			return fmt.Errorf("state tensor %s references unknown parameter index", st.Name)
		}

		dst := sgd.velocity[idx]
		if len(st.Data) != dst.NumElems {
			return fmt.Errorf("state tensor %s has %d elements, expected %d",
				st.Name, len(st.Data), dst.NumElems)
		}
		copy(dst.Data, st.Data)
	}

	return nil
}

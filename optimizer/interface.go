package optimizer

import (
	"fmt"

	"github.com/tsawler/go-autoencoder/checkpoints"
)

// Optimizer defines the common interface for all optimizers. State
// save/restore exists for checkpoint functionality.
type Optimizer interface {
	// Step applies one update using the gradients currently
	// accumulated on the parameter tensors.
	Step() error

	// ZeroGrad clears accumulated gradients on all parameters.
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float32)
}

// extractBufferIndex extracts the parameter index from state tensor
// names like "momentum_0" or "variance_1".
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer.
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

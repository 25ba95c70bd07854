package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-autoencoder/tensor"
)

// quadraticStep accumulates the gradient of mean(x^2) on x and applies
// one optimizer step.
func quadraticStep(t *testing.T, x *tensor.Tensor, opt Optimizer) {
	t.Helper()

	opt.ZeroGrad()
	target, _ := tensor.Zeros(x.Shape, x.DType, x.Device)
	loss := tensor.MSEAutograd(x, target)
	if err := tensor.Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
}

func norm(x *tensor.Tensor) float64 {
	var sum float64
	for _, v := range x.Data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestNewAdamValidation(t *testing.T) {
	if _, err := NewAdam(DefaultAdamConfig(), nil); err == nil {
		t.Error("expected error for empty parameter list")
	}

	x, _ := tensor.Ones([]int{2}, tensor.Float32, tensor.CPU)
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0
	if _, err := NewAdam(cfg, []*tensor.Tensor{x}); err == nil {
		t.Error("expected error for zero learning rate")
	}
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	x, _ := tensor.NewTensor([]int{4}, tensor.Float32, tensor.CPU, []float32{1, -2, 3, -4})
	x.SetRequiresGrad(true)

	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	adam, err := NewAdam(cfg, []*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	initial := norm(x)
	for i := 0; i < 100; i++ {
		quadraticStep(t, x, adam)
	}

	if final := norm(x); final >= initial/2 {
		t.Errorf("Adam failed to descend: |x| went from %g to %g", initial, final)
	}
	if adam.GetStepCount() != 100 {
		t.Errorf("step count = %d, expected 100", adam.GetStepCount())
	}
}

func TestAdamSkipsParametersWithoutGradients(t *testing.T) {
	x, _ := tensor.Ones([]int{2}, tensor.Float32, tensor.CPU)
	adam, err := NewAdam(DefaultAdamConfig(), []*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if x.Data[0] != 1 || x.Data[1] != 1 {
		t.Error("parameter without gradient was modified")
	}
}

func TestSGDMinimizesQuadratic(t *testing.T) {
	x, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{2, -2})
	x.SetRequiresGrad(true)

	cfg := DefaultSGDConfig()
	cfg.LearningRate = 0.1
	cfg.Momentum = 0
	sgd, err := NewSGD(cfg, []*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	initial := norm(x)
	for i := 0; i < 50; i++ {
		quadraticStep(t, x, sgd)
	}

	if final := norm(x); final >= initial/2 {
		t.Errorf("SGD failed to descend: |x| went from %g to %g", initial, final)
	}
}

func TestSGDMomentumAcceleratesFirstSteps(t *testing.T) {
	plain, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})
	plain.SetRequiresGrad(true)
	withMomentum, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})
	withMomentum.SetRequiresGrad(true)

	cfgPlain := SGDConfig{LearningRate: 0.01}
	cfgMomentum := SGDConfig{LearningRate: 0.01, Momentum: 0.9}

	sgdPlain, _ := NewSGD(cfgPlain, []*tensor.Tensor{plain})
	sgdMomentum, _ := NewSGD(cfgMomentum, []*tensor.Tensor{withMomentum})

	for i := 0; i < 10; i++ {
		quadraticStep(t, plain, sgdPlain)
		quadraticStep(t, withMomentum, sgdMomentum)
	}

	if norm(withMomentum) >= norm(plain) {
		t.Errorf("momentum did not accelerate descent: %g vs %g",
			norm(withMomentum), norm(plain))
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	x, _ := tensor.NewTensor([]int{3}, tensor.Float32, tensor.CPU, []float32{1, 2, 3})
	x.SetRequiresGrad(true)

	adam, _ := NewAdam(DefaultAdamConfig(), []*tensor.Tensor{x})
	for i := 0; i < 5; i++ {
		quadraticStep(t, x, adam)
	}

	state, err := adam.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "Adam" {
		t.Errorf("state type = %s, expected Adam", state.Type)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("expected momentum and variance tensors, got %d", len(state.StateData))
	}

	y, _ := tensor.NewTensor([]int{3}, tensor.Float32, tensor.CPU, []float32{1, 2, 3})
	restored, _ := NewAdam(DefaultAdamConfig(), []*tensor.Tensor{y})
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if restored.GetStepCount() != adam.GetStepCount() {
		t.Errorf("step count not restored: %d vs %d",
			restored.GetStepCount(), adam.GetStepCount())
	}

	restoredState, _ := restored.GetState()
	for i, st := range state.StateData {
		for j, v := range st.Data {
			if restoredState.StateData[i].Data[j] != v {
				t.Fatalf("state tensor %s element %d not restored", st.Name, j)
			}
		}
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	x, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, -1})
	x.SetRequiresGrad(true)

	sgd, _ := NewSGD(DefaultSGDConfig(), []*tensor.Tensor{x})
	for i := 0; i < 3; i++ {
		quadraticStep(t, x, sgd)
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	y, _ := tensor.Ones([]int{2}, tensor.Float32, tensor.CPU)
	restored, _ := NewSGD(DefaultSGDConfig(), []*tensor.Tensor{y})
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.GetStepCount() != 3 {
		t.Errorf("step count = %d, expected 3", restored.GetStepCount())
	}
}

func TestLoadStateTypeMismatch(t *testing.T) {
	x, _ := tensor.Ones([]int{2}, tensor.Float32, tensor.CPU)
	adam, _ := NewAdam(DefaultAdamConfig(), []*tensor.Tensor{x})

	sgd, _ := NewSGD(DefaultSGDConfig(), []*tensor.Tensor{x})
	state, _ := sgd.GetState()

	if err := adam.LoadState(state); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestUpdateLearningRate(t *testing.T) {
	x, _ := tensor.Ones([]int{1}, tensor.Float32, tensor.CPU)
	adam, _ := NewAdam(DefaultAdamConfig(), []*tensor.Tensor{x})

	adam.UpdateLearningRate(0.5)
	if adam.LearningRate != 0.5 {
		t.Errorf("learning rate = %g, expected 0.5", adam.LearningRate)
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"momentum_0", 0},
		{"variance_12", 12},
		{"velocity_3", 3},
		{"nounderscores", -1},
		{"bad_suffix_x", -1},
	}
	for _, tc := range tests {
		if got := extractBufferIndex(tc.name); got != tc.expected {
			t.Errorf("extractBufferIndex(%q) = %d, expected %d", tc.name, got, tc.expected)
		}
	}
}

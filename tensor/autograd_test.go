package tensor

import (
	"math"
	"testing"
)

func scalar(t *testing.T, v float32, requiresGrad bool) *Tensor {
	t.Helper()
	s, err := NewTensor([]int{1}, Float32, CPU, []float32{v})
	if err != nil {
		t.Fatalf("failed to create scalar: %v", err)
	}
	s.SetRequiresGrad(requiresGrad)
	return s
}

func TestBackwardRequiresScalar(t *testing.T) {
	a, _ := Zeros([]int{2, 2}, Float32, CPU)
	if err := Backward(a); err == nil {
		t.Fatal("expected error for non-scalar root")
	}
}

func TestMulBackward(t *testing.T) {
	a := scalar(t, 3, true)
	b := scalar(t, 4, true)

	c := MulAutograd(a, b)
	if c.Data[0] != 12 {
		t.Fatalf("forward: got %g, expected 12", c.Data[0])
	}

	if err := Backward(c); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if a.Grad() == nil || a.Grad().Data[0] != 4 {
		t.Errorf("a.grad = %v, expected 4", a.Grad())
	}
	if b.Grad() == nil || b.Grad().Data[0] != 3 {
		t.Errorf("b.grad = %v, expected 3", b.Grad())
	}
}

func TestGradientAccumulation(t *testing.T) {
	a := scalar(t, 1, true)

	// c = a + a, loss = mean((2a)^2) = 4a^2, dloss/da = 8a.
	c := AddAutograd(a, a)
	zero := scalar(t, 0, false)
	loss := MSEAutograd(c, zero)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if a.Grad() == nil || a.Grad().Data[0] != 8 {
		t.Errorf("a.grad = %v, expected 8", a.Grad())
	}
}

func TestMSEForward(t *testing.T) {
	pred, _ := NewTensor([]int{4}, Float32, CPU, []float32{2, 2, 2, 2})
	target, _ := NewTensor([]int{4}, Float32, CPU, []float32{0, 0, 0, 0})

	loss := MSEAutograd(pred, target)
	v, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if v != 4 {
		t.Errorf("loss = %g, expected 4", v)
	}
}

func TestMSEPerfectPrediction(t *testing.T) {
	pred, _ := NewTensor([]int{3}, Float32, CPU, []float32{1, 2, 3})
	target, _ := NewTensor([]int{3}, Float32, CPU, []float32{1, 2, 3})

	loss := MSEAutograd(pred, target)
	if loss.Data[0] != 0 {
		t.Errorf("loss = %g, expected 0", loss.Data[0])
	}
}

func TestMSEBackward(t *testing.T) {
	pred, _ := NewTensor([]int{2}, Float32, CPU, []float32{3, 5})
	pred.SetRequiresGrad(true)
	target, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 1})

	loss := MSEAutograd(pred, target)
	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dloss/dpred = 2(pred - target)/n.
	expected := []float32{2, 4}
	grad := pred.Grad()
	if grad == nil {
		t.Fatal("no gradient on prediction")
	}
	for i, e := range expected {
		if grad.Data[i] != e {
			t.Errorf("grad[%d] = %g, expected %g", i, grad.Data[i], e)
		}
	}

	if target.Grad() != nil {
		t.Error("target should not receive a gradient")
	}
}

func TestReLUBackward(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, CPU, []float32{-2, 3})
	x.SetRequiresGrad(true)

	out := ReLUAutograd(x)
	target, _ := NewTensor([]int{2}, Float32, CPU, []float32{0, 0})
	loss := MSEAutograd(out, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := x.Grad()
	if grad.Data[0] != 0 {
		t.Errorf("gradient leaked through inactive ReLU: %g", grad.Data[0])
	}
	if grad.Data[1] != 3 {
		t.Errorf("grad[1] = %g, expected 3", grad.Data[1])
	}
}

func TestConv2DKnownValues(t *testing.T) {
	input, _ := Ones([]int{1, 1, 3, 3}, Float32, CPU)
	weight, _ := Ones([]int{1, 1, 3, 3}, Float32, CPU)

	out, err := Conv2D(input, weight, nil, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}

	if out.Shape[2] != 3 || out.Shape[3] != 3 {
		t.Fatalf("expected 3x3 output, got %v", out.Shape)
	}

	// Padded all-ones convolution: corners see 4 cells, edges 6,
	// center 9.
	expected := []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}
	for i, e := range expected {
		if out.Data[i] != e {
			t.Errorf("out[%d] = %g, expected %g", i, out.Data[i], e)
		}
	}
}

func TestConv2DShapeErrors(t *testing.T) {
	bad3d, _ := Zeros([]int{1, 3, 3}, Float32, CPU)
	weight, _ := Zeros([]int{1, 1, 3, 3}, Float32, CPU)
	if _, err := Conv2D(bad3d, weight, nil, 1); err == nil {
		t.Error("expected error for 3D input")
	}

	input, _ := Zeros([]int{1, 2, 3, 3}, Float32, CPU)
	if _, err := Conv2D(input, weight, nil, 1); err == nil {
		t.Error("expected error for channel mismatch")
	}
}

func TestConv2DBackward(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	input.SetRequiresGrad(true)
	weight, _ := NewTensor([]int{1, 1, 1, 1}, Float32, CPU, []float32{0.5})
	weight.SetRequiresGrad(true)
	bias, _ := Zeros([]int{1}, Float32, CPU)
	bias.SetRequiresGrad(true)

	out := Conv2DAutograd(input, weight, bias, 0)
	target, _ := Zeros([]int{1, 1, 2, 2}, Float32, CPU)
	loss := MSEAutograd(out, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// out = 0.5 * input, dloss/dout = out/2. Hand-computed:
	// dW = sum(input * dout) = 7.5, db = sum(dout) = 2.5,
	// dinput = W * dout.
	if g := weight.Grad().Data[0]; math.Abs(float64(g-7.5)) > 1e-5 {
		t.Errorf("weight grad = %g, expected 7.5", g)
	}
	if g := bias.Grad().Data[0]; math.Abs(float64(g-2.5)) > 1e-5 {
		t.Errorf("bias grad = %g, expected 2.5", g)
	}

	expectedInput := []float32{0.125, 0.25, 0.375, 0.5}
	for i, e := range expectedInput {
		if g := input.Grad().Data[i]; math.Abs(float64(g-e)) > 1e-5 {
			t.Errorf("input grad[%d] = %g, expected %g", i, g, e)
		}
	}
}

func TestConv2DBackwardNilBias(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	input.SetRequiresGrad(true)
	weight, _ := NewTensor([]int{1, 1, 1, 1}, Float32, CPU, []float32{0.5})
	weight.SetRequiresGrad(true)

	out := Conv2DAutograd(input, weight, nil, 0)
	target, _ := Zeros([]int{1, 1, 2, 2}, Float32, CPU)
	loss := MSEAutograd(out, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Identical to the biased case with a zero bias: dW = 7.5,
	// dinput = W * dout.
	if g := weight.Grad().Data[0]; math.Abs(float64(g-7.5)) > 1e-5 {
		t.Errorf("weight grad = %g, expected 7.5", g)
	}
	expectedInput := []float32{0.125, 0.25, 0.375, 0.5}
	for i, e := range expectedInput {
		if g := input.Grad().Data[i]; math.Abs(float64(g-e)) > 1e-5 {
			t.Errorf("input grad[%d] = %g, expected %g", i, g, e)
		}
	}
}

func TestMaxPool2D(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 2, 2}, Float32, CPU, []float32{1, 3, 2, 0})

	out, indices, err := MaxPool2D(input, 2)
	if err != nil {
		t.Fatalf("MaxPool2D failed: %v", err)
	}

	if out.Data[0] != 3 {
		t.Errorf("pooled value = %g, expected 3", out.Data[0])
	}
	if indices[0] != 1 {
		t.Errorf("argmax index = %d, expected 1", indices[0])
	}
}

func TestMaxPool2DIndivisible(t *testing.T) {
	input, _ := Zeros([]int{1, 1, 3, 3}, Float32, CPU)
	if _, _, err := MaxPool2D(input, 2); err == nil {
		t.Fatal("expected error for indivisible spatial size")
	}
}

func TestMaxPool2DBackward(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 2, 2}, Float32, CPU, []float32{1, 3, 2, 0})
	input.SetRequiresGrad(true)

	out := MaxPool2DAutograd(input, 2)
	target, _ := Zeros([]int{1, 1, 1, 1}, Float32, CPU)
	loss := MSEAutograd(out, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Only the max element receives gradient: dloss/dout = 2*3 = 6.
	expected := []float32{0, 6, 0, 0}
	for i, e := range expected {
		if g := input.Grad().Data[i]; g != e {
			t.Errorf("grad[%d] = %g, expected %g", i, g, e)
		}
	}
}

func TestUpsampleNearest2D(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 2}, Float32, CPU, []float32{1, 2})

	out, err := UpsampleNearest2D(input, 2)
	if err != nil {
		t.Fatalf("UpsampleNearest2D failed: %v", err)
	}

	if out.Shape[2] != 2 || out.Shape[3] != 4 {
		t.Fatalf("expected 2x4 output, got %v", out.Shape)
	}
	expected := []float32{1, 1, 2, 2, 1, 1, 2, 2}
	for i, e := range expected {
		if out.Data[i] != e {
			t.Errorf("out[%d] = %g, expected %g", i, out.Data[i], e)
		}
	}
}

func TestUpsampleNearest2DBackward(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 1}, Float32, CPU, []float32{2})
	input.SetRequiresGrad(true)

	out := UpsampleNearest2DAutograd(input, 2)
	target, _ := Zeros([]int{1, 1, 2, 2}, Float32, CPU)
	loss := MSEAutograd(out, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Each replicated cell contributes 2*2/4 = 1; the source sums
	// all four.
	if g := input.Grad().Data[0]; g != 4 {
		t.Errorf("input grad = %g, expected 4", g)
	}
}

func TestBatchNormTrainingNormalizes(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 4}, Float32, CPU, []float32{1, 2, 3, 4})
	gamma, _ := Ones([]int{1}, Float32, CPU)
	beta, _ := Zeros([]int{1}, Float32, CPU)
	runningMean := make([]float32, 1)
	runningVar := []float32{1}

	out := BatchNorm2DAutograd(input, gamma, beta, runningMean, runningVar, 0.1, 1e-5, true)

	var sum, sqSum float64
	for _, v := range out.Data {
		sum += float64(v)
		sqSum += float64(v) * float64(v)
	}
	mean := sum / 4
	variance := sqSum/4 - mean*mean

	if math.Abs(mean) > 1e-5 {
		t.Errorf("output mean = %g, expected 0", mean)
	}
	if math.Abs(variance-1) > 1e-3 {
		t.Errorf("output variance = %g, expected 1", variance)
	}
}

func TestBatchNormRunningStatistics(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 4}, Float32, CPU, []float32{1, 2, 3, 4})
	gamma, _ := Ones([]int{1}, Float32, CPU)
	beta, _ := Zeros([]int{1}, Float32, CPU)
	runningMean := make([]float32, 1)
	runningVar := []float32{1}

	BatchNorm2DAutograd(input, gamma, beta, runningMean, runningVar, 0.1, 1e-5, true)

	// Batch mean 2.5, unbiased variance 1.25*4/3.
	if math.Abs(float64(runningMean[0]-0.25)) > 1e-5 {
		t.Errorf("running mean = %g, expected 0.25", runningMean[0])
	}
	expectedVar := 0.9 + 0.1*1.25*4.0/3.0
	if math.Abs(float64(runningVar[0])-expectedVar) > 1e-5 {
		t.Errorf("running var = %g, expected %g", runningVar[0], expectedVar)
	}
}

func TestBatchNormEvalUsesRunningStatistics(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 2}, Float32, CPU, []float32{1, 2})
	gamma, _ := Ones([]int{1}, Float32, CPU)
	beta, _ := Zeros([]int{1}, Float32, CPU)
	runningMean := []float32{0}
	runningVar := []float32{1}

	out := BatchNorm2DAutograd(input, gamma, beta, runningMean, runningVar, 0.1, 1e-5, false)

	// With mean 0 and variance 1 the eval transform is near-identity.
	for i, v := range input.Data {
		if math.Abs(float64(out.Data[i]-v)) > 1e-3 {
			t.Errorf("out[%d] = %g, expected ~%g", i, out.Data[i], v)
		}
	}

	if runningMean[0] != 0 || runningVar[0] != 1 {
		t.Error("eval mode must not update running statistics")
	}
}

func TestBatchNormBetaGradient(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 4}, Float32, CPU, []float32{1, 2, 3, 4})
	input.SetRequiresGrad(true)
	gamma, _ := Ones([]int{1}, Float32, CPU)
	gamma.SetRequiresGrad(true)
	beta, _ := Zeros([]int{1}, Float32, CPU)
	beta.SetRequiresGrad(true)
	runningMean := make([]float32, 1)
	runningVar := []float32{1}

	out := BatchNorm2DAutograd(input, gamma, beta, runningMean, runningVar, 0.1, 1e-5, true)
	target, _ := Full([]int{1, 1, 1, 4}, 1, Float32, CPU)
	loss := MSEAutograd(out, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dloss/dbeta = sum(dloss/dout) = sum(2(out-1)/4); out has zero
	// mean so the sum is -2.
	if g := beta.Grad().Data[0]; math.Abs(float64(g+2)) > 1e-4 {
		t.Errorf("beta grad = %g, expected -2", g)
	}
	if gamma.Grad() == nil || input.Grad() == nil {
		t.Fatal("missing gradients on gamma or input")
	}
}

func TestZeroGradClearsGradients(t *testing.T) {
	a := scalar(t, 2, true)
	b := scalar(t, 3, true)

	c := MulAutograd(a, b)
	if err := Backward(c); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	ZeroGrad([]*Tensor{a, b})
	if a.Grad() != nil || b.Grad() != nil {
		t.Error("gradients not cleared")
	}
}

func TestReshapeBackward(t *testing.T) {
	x, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	x.SetRequiresGrad(true)

	flat := ReshapeAutograd(x, []int{4})
	target, _ := Zeros([]int{4}, Float32, CPU)
	loss := MSEAutograd(flat, target)

	if err := Backward(loss); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := x.Grad()
	if grad == nil || !shapesEqual(grad.Shape, x.Shape) {
		t.Fatalf("gradient shape mismatch: %v", grad)
	}
	// dloss/dx = 2x/4.
	for i, v := range x.Data {
		if math.Abs(float64(grad.Data[i]-v/2)) > 1e-5 {
			t.Errorf("grad[%d] = %g, expected %g", i, grad.Data[i], v/2)
		}
	}
}

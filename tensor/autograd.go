package tensor

import (
	"fmt"
)

// accumulateGrad adds grad into t's gradient buffer, creating it on
// first use. Gradient shapes always match the tensor's own shape.
func accumulateGrad(t *Tensor, grad *Tensor) {
	if grad == nil {
		return
	}

	if t.grad == nil {
		clone, err := grad.Clone()
		if err != nil {
			panic(fmt.Sprintf("failed to clone gradient: %v", err))
		}
		clone.requiresGrad = false
		t.grad = clone
		return
	}

	for i := range t.grad.Data {
		t.grad.Data[i] += grad.Data[i]
	}
}

// Backward runs reverse-mode differentiation from a scalar tensor,
// accumulating gradients into every reachable tensor that requires
// them.
func Backward(root *Tensor) error {
	if root.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar tensor, got shape %v", root.Shape)
	}

	// Topological order over the op graph so each node's output
	// gradient is complete before its Backward runs.
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if t == nil || visited[t] || t.creator == nil {
			return
		}
		visited[t] = true
		for _, input := range t.creator.Inputs() {
			visit(input)
		}
		order = append(order, t)
	}
	visit(root)

	seed, err := Ones(root.Shape, root.DType, root.Device)
	if err != nil {
		return err
	}
	accumulateGrad(root, seed)

	for i := len(order) - 1; i >= 0; i-- {
		out := order[i]
		if out.grad == nil {
			continue
		}

		inputGrads := out.creator.Backward(out.grad)
		inputs := out.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for j, input := range inputs {
			if input == nil {
				continue
			}
			if input.requiresGrad || input.creator != nil {
				accumulateGrad(input, inputGrads[j])
			}
		}
	}

	return nil
}

// AddOp implements the Operation interface for tensor addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Add(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a + b)/∂a = 1, ∂(a + b)/∂b = 1
	return []*Tensor{gradOut, gradOut}
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

// SubOp implements the Operation interface for tensor subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a - b)/∂a = 1, ∂(a - b)/∂b = -1
	negGrad, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{gradOut, negGrad}
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

// MulOp implements the Operation interface for elementwise
// multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	gradA, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradA: %v", err))
	}

	gradB, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

// ReLUOp implements the Operation interface for ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := ReLU(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	// ∂ReLU(x)/∂x = 1 if x > 0, else 0
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient: %v", err))
	}

	for i := range grad.Data {
		if a.Data[i] <= 0 {
			grad.Data[i] = 0
		}
	}
	return []*Tensor{grad}
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

// ReshapeOp implements the Operation interface for reshaping.
type ReshapeOp struct {
	inputs   []*Tensor
	newShape []int
}

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Reshape(a, op.newShape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	// Gradient flows unchanged, shaped like the input.
	grad, err := Reshape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

// MSEOp computes the mean squared error between prediction and target
// as a scalar. Only the prediction receives a gradient; the target is
// treated as a constant.
type MSEOp struct {
	inputs []*Tensor
}

func (op *MSEOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MSEOp requires exactly 2 inputs")
	}

	predicted, target := inputs[0], inputs[1]
	if err := checkCompatibility(predicted, target); err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	op.inputs = inputs

	var sum float64
	for i := range predicted.Data {
		diff := float64(predicted.Data[i] - target.Data[i])
		sum += diff * diff
	}
	mean := sum / float64(predicted.NumElems)

	result := FromScalar(mean, predicted.DType, predicted.Device)
	result.creator = op
	result.requiresGrad = predicted.requiresGrad
	return result
}

func (op *MSEOp) Backward(gradOut *Tensor) []*Tensor {
	predicted, target := op.inputs[0], op.inputs[1]

	// ∂MSE/∂pred = 2 * (pred - target) / N, scaled by the incoming
	// scalar gradient.
	scale := 2.0 * gradOut.Data[0] / float32(predicted.NumElems)
	grad, err := Zeros(predicted.Shape, predicted.DType, predicted.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	for i := range grad.Data {
		grad.Data[i] = scale * (predicted.Data[i] - target.Data[i])
	}

	return []*Tensor{grad, nil}
}

func (op *MSEOp) Inputs() []*Tensor { return op.inputs }

// High-level autograd functions that create and execute operations.

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// ReLUAutograd performs ReLU activation with automatic differentiation.
func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

// ReshapeAutograd reshapes with automatic differentiation.
func ReshapeAutograd(a *Tensor, newShape []int) *Tensor {
	op := &ReshapeOp{newShape: append([]int(nil), newShape...)}
	return op.Forward(a)
}

// MSEAutograd computes mean squared error with automatic
// differentiation on the prediction.
func MSEAutograd(predicted, target *Tensor) *Tensor {
	op := &MSEOp{}
	return op.Forward(predicted, target)
}

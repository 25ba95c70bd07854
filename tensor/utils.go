package tensor

import (
	"fmt"
)

// Clone creates a deep copy of the tensor. The autograd graph is not
// copied: the clone is a fresh leaf.
func (t *Tensor) Clone() (*Tensor, error) {
	data := make([]float32, t.NumElems)
	copy(data, t.Data)

	clone, err := NewTensor(t.Shape, t.DType, t.Device, data)
	if err != nil {
		return nil, err
	}
	clone.requiresGrad = t.requiresGrad
	return clone, nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

// At returns the element at the given coordinates.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}

	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range [0, %d) for dimension %d", coord, t.Shape[i], i)
		}
		idx += coord * t.Strides[i]
	}
	return t.Data[idx], nil
}

// SetAt sets the element at the given coordinates.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	if len(indices) != len(t.Shape) {
		return fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}

	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return fmt.Errorf("index %d out of range [0, %d) for dimension %d", coord, t.Shape[i], i)
		}
		idx += coord * t.Strides[i]
	}
	t.Data[idx] = value
	return nil
}

// Size returns the tensor shape.
func (t *Tensor) Size() []int {
	return t.Shape
}

// Numel returns the total number of elements.
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// ShapeEquals reports whether two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	return shapesEqual(t.Shape, other.Shape)
}

// Equal reports whether two tensors have identical shape and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// ZeroGrad clears accumulated gradients on the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		t.grad = nil
	}
}

// Detach drops the autograd history, turning the tensor back into a
// leaf. The data is shared, not copied.
func (t *Tensor) Detach() *Tensor {
	t.creator = nil
	return t
}

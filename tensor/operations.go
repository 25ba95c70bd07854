package tensor

import (
	"fmt"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// Add performs elementwise addition.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	for i := range result.Data {
		result.Data[i] = t1.Data[i] + t2.Data[i]
	}
	return result, nil
}

// Sub performs elementwise subtraction.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	for i := range result.Data {
		result.Data[i] = t1.Data[i] - t2.Data[i]
	}
	return result, nil
}

// Mul performs elementwise multiplication.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	for i := range result.Data {
		result.Data[i] = t1.Data[i] * t2.Data[i]
	}
	return result, nil
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, factor float32) (*Tensor, error) {
	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	for i := range result.Data {
		result.Data[i] = t.Data[i] * factor
	}
	return result, nil
}

// ReLU applies max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	for i, v := range t.Data {
		if v > 0 {
			result.Data[i] = v
		}
	}
	return result, nil
}

// Reshape returns a view-copy of t with a new shape. The element count
// must be preserved.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}

	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape, t.NumElems, newShape, calculateNumElements(newShape))
	}

	data := make([]float32, t.NumElems)
	copy(data, t.Data)
	return NewTensor(newShape, t.DType, t.Device, data)
}

package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// NewTensor creates a tensor from existing float32 data. The data slice
// is used directly, not copied.
func NewTensor(shape []int, dtype DType, device DeviceType, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	if dtype != Float32 {
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return NewTensor(shape, dtype, device, make([]float32, calculateNumElements(shape)))
}

// Ones creates a tensor filled with ones.
func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	return Full(shape, 1.0, dtype, device)
}

// Full creates a tensor filled with the given value.
func Full(shape []int, value float32, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, dtype, device, data)
}

// Random creates a tensor with uniform values in [-1, 1) drawn from rng.
func Random(shape []int, dtype DType, device DeviceType, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = rng.Float32()*2.0 - 1.0
	}
	return NewTensor(shape, dtype, device, data)
}

// RandomNormal creates a tensor with normally distributed values.
func RandomNormal(shape []int, mean, std float32, dtype DType, device DeviceType, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = mean + std*float32(rng.NormFloat64())
	}
	return NewTensor(shape, dtype, device, data)
}

// KaimingNormal creates a weight tensor initialized with the He scheme
// for ReLU networks: N(0, sqrt(2/fanIn)).
func KaimingNormal(shape []int, fanIn int, dtype DType, device DeviceType, rng *rand.Rand) (*Tensor, error) {
	if fanIn <= 0 {
		return nil, fmt.Errorf("fanIn must be positive, got %d", fanIn)
	}

	std := float32(math.Sqrt(2.0 / float64(fanIn)))
	return RandomNormal(shape, 0, std, dtype, device, rng)
}

// FromScalar wraps a single value in a [1] tensor.
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	t, _ := NewTensor([]int{1}, dtype, device, []float32{float32(value)})
	return t
}

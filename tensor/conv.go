package tensor

import (
	"fmt"
	"math"
)

// Spatial operations over NCHW tensors. Index arithmetic is written
// out directly; strides are contiguous by construction.

// Conv2D performs a 2D convolution with stride 1 and symmetric zero
// padding. input is [N, Cin, H, W], weight is [Cout, Cin, K, K], bias
// is [Cout]. The output is [N, Cout, H+2p-K+1, W+2p-K+1].
func Conv2D(input, weight, bias *Tensor, padding int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("Conv2D input must be 4D [N, C, H, W], got shape %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("Conv2D weight must be 4D [Cout, Cin, K, K], got shape %v", weight.Shape)
	}
	if padding < 0 {
		return nil, fmt.Errorf("padding must be non-negative, got %d", padding)
	}

	n, cin, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	cout, wcin, kh, kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]

	if cin != wcin {
		return nil, fmt.Errorf("channel mismatch: input has %d, weight expects %d", cin, wcin)
	}
	if kh != kw {
		return nil, fmt.Errorf("Conv2D requires a square kernel, got %dx%d", kh, kw)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != cout) {
		return nil, fmt.Errorf("bias must be [%d], got shape %v", cout, bias.Shape)
	}

	outH := h + 2*padding - kh + 1
	outW := w + 2*padding - kw + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("kernel %d with padding %d does not fit input %dx%d", kh, padding, h, w)
	}

	output, err := Zeros([]int{n, cout, outH, outW}, input.DType, input.Device)
	if err != nil {
		return nil, err
	}

	for b := 0; b < n; b++ {
		for oc := 0; oc < cout; oc++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					var sum float32
					for ic := 0; ic < cin; ic++ {
						for ky := 0; ky < kh; ky++ {
							iy := oh + ky - padding
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ow + kx - padding
								if ix < 0 || ix >= w {
									continue
								}
								inIdx := ((b*cin+ic)*h+iy)*w + ix
								wIdx := ((oc*cin+ic)*kh+ky)*kw + kx
								sum += input.Data[inIdx] * weight.Data[wIdx]
							}
						}
					}
					if bias != nil {
						sum += bias.Data[oc]
					}
					output.Data[((b*cout+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}

	return output, nil
}

// Conv2DOp implements the Operation interface for Conv2D.
type Conv2DOp struct {
	inputs  []*Tensor
	padding int
}

func (op *Conv2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 3 {
		panic("Conv2DOp requires exactly 3 inputs (input, weight, bias)")
	}

	input, weight, bias := inputs[0], inputs[1], inputs[2]
	op.inputs = inputs

	result, err := Conv2D(input, weight, bias, op.padding)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = input.requiresGrad || weight.requiresGrad ||
		(bias != nil && bias.requiresGrad)
	return result
}

func (op *Conv2DOp) Backward(gradOut *Tensor) []*Tensor {
	input, weight, bias := op.inputs[0], op.inputs[1], op.inputs[2]

	n, cin, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	cout, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	outH, outW := gradOut.Shape[2], gradOut.Shape[3]
	p := op.padding

	gradInput, err := Zeros(input.Shape, input.DType, input.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradWeight, err := Zeros(weight.Shape, weight.DType, weight.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradBias, err := Zeros([]int{cout}, weight.DType, weight.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	for b := 0; b < n; b++ {
		for oc := 0; oc < cout; oc++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					dout := gradOut.Data[((b*cout+oc)*outH+oh)*outW+ow]
					if dout == 0 {
						continue
					}
					if bias != nil {
						gradBias.Data[oc] += dout
					}
					for ic := 0; ic < cin; ic++ {
						for ky := 0; ky < kh; ky++ {
							iy := oh + ky - p
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ow + kx - p
								if ix < 0 || ix >= w {
									continue
								}
								inIdx := ((b*cin+ic)*h+iy)*w + ix
								wIdx := ((oc*cin+ic)*kh+ky)*kw + kx
								gradWeight.Data[wIdx] += input.Data[inIdx] * dout
								gradInput.Data[inIdx] += weight.Data[wIdx] * dout
							}
						}
					}
				}
			}
		}
	}

	if bias == nil {
		gradBias = nil
	}
	return []*Tensor{gradInput, gradWeight, gradBias}
}

func (op *Conv2DOp) Inputs() []*Tensor { return op.inputs }

// Conv2DAutograd performs a convolution with automatic
// differentiation for input, weight and bias.
func Conv2DAutograd(input, weight, bias *Tensor, padding int) *Tensor {
	op := &Conv2DOp{padding: padding}
	return op.Forward(input, weight, bias)
}

// MaxPool2D downsamples by taking the maximum over factor×factor
// windows (kernel equals stride). Returns the pooled tensor and the
// flat input index of each selected maximum.
func MaxPool2D(input *Tensor, factor int) (*Tensor, []int, error) {
	if len(input.Shape) != 4 {
		return nil, nil, fmt.Errorf("MaxPool2D input must be 4D [N, C, H, W], got shape %v", input.Shape)
	}
	if factor <= 0 {
		return nil, nil, fmt.Errorf("pool factor must be positive, got %d", factor)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	if h%factor != 0 || w%factor != 0 {
		return nil, nil, fmt.Errorf("spatial size %dx%d not divisible by pool factor %d", h, w, factor)
	}

	outH, outW := h/factor, w/factor
	output, err := Zeros([]int{n, c, outH, outW}, input.DType, input.Device)
	if err != nil {
		return nil, nil, err
	}
	indices := make([]int, output.NumElems)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					maxVal := float32(math.Inf(-1))
					maxIdx := 0
					for py := 0; py < factor; py++ {
						for px := 0; px < factor; px++ {
							iy := oh*factor + py
							ix := ow*factor + px
							idx := ((b*c+ch)*h+iy)*w + ix
							if input.Data[idx] > maxVal {
								maxVal = input.Data[idx]
								maxIdx = idx
							}
						}
					}
					outIdx := ((b*c+ch)*outH+oh)*outW + ow
					output.Data[outIdx] = maxVal
					indices[outIdx] = maxIdx
				}
			}
		}
	}

	return output, indices, nil
}

// MaxPool2DOp implements the Operation interface for max pooling.
type MaxPool2DOp struct {
	inputs  []*Tensor
	factor  int
	indices []int
}

func (op *MaxPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MaxPool2DOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, indices, err := MaxPool2D(a, op.factor)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	op.indices = indices

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *MaxPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	grad, err := Zeros(a.Shape, a.DType, a.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	// Gradient routes only to the element that won the max.
	for outIdx, inIdx := range op.indices {
		grad.Data[inIdx] += gradOut.Data[outIdx]
	}
	return []*Tensor{grad}
}

func (op *MaxPool2DOp) Inputs() []*Tensor { return op.inputs }

// MaxPool2DAutograd performs max pooling with automatic
// differentiation.
func MaxPool2DAutograd(input *Tensor, factor int) *Tensor {
	op := &MaxPool2DOp{factor: factor}
	return op.Forward(input)
}

// UpsampleNearest2D upsamples by repeating each element into a
// factor×factor block.
func UpsampleNearest2D(input *Tensor, factor int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("UpsampleNearest2D input must be 4D [N, C, H, W], got shape %v", input.Shape)
	}
	if factor <= 0 {
		return nil, fmt.Errorf("upsample factor must be positive, got %d", factor)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outH, outW := h*factor, w*factor

	output, err := Zeros([]int{n, c, outH, outW}, input.DType, input.Device)
	if err != nil {
		return nil, err
	}

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oh := 0; oh < outH; oh++ {
				iy := oh / factor
				for ow := 0; ow < outW; ow++ {
					ix := ow / factor
					output.Data[((b*c+ch)*outH+oh)*outW+ow] = input.Data[((b*c+ch)*h+iy)*w+ix]
				}
			}
		}
	}

	return output, nil
}

// UpsampleNearest2DOp implements the Operation interface for nearest
// neighbour upsampling.
type UpsampleNearest2DOp struct {
	inputs []*Tensor
	factor int
}

func (op *UpsampleNearest2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("UpsampleNearest2DOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := UpsampleNearest2D(a, op.factor)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *UpsampleNearest2DOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	n, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	f := op.factor
	outH, outW := h*f, w*f

	grad, err := Zeros(a.Shape, a.DType, a.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	// Each source element fans out to a factor×factor block; its
	// gradient is the sum over that block.
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oh := 0; oh < outH; oh++ {
				iy := oh / f
				for ow := 0; ow < outW; ow++ {
					ix := ow / f
					grad.Data[((b*c+ch)*h+iy)*w+ix] += gradOut.Data[((b*c+ch)*outH+oh)*outW+ow]
				}
			}
		}
	}
	return []*Tensor{grad}
}

func (op *UpsampleNearest2DOp) Inputs() []*Tensor { return op.inputs }

// UpsampleNearest2DAutograd performs nearest neighbour upsampling with
// automatic differentiation.
func UpsampleNearest2DAutograd(input *Tensor, factor int) *Tensor {
	op := &UpsampleNearest2DOp{factor: factor}
	return op.Forward(input)
}

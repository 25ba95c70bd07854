package tensor

import (
	"fmt"
	"math"
)

// BatchNorm2DOp implements the Operation interface for 2D batch
// normalization over NCHW input: per-channel statistics across the
// batch and spatial dimensions, affine scale and shift.
//
// In training mode the op normalizes with batch statistics and updates
// the running statistics in place; in eval mode it normalizes with the
// running statistics and leaves them untouched.
type BatchNorm2DOp struct {
	inputs   []*Tensor
	eps      float32
	momentum float32
	training bool

	runningMean []float32
	runningVar  []float32

	// Saved forward-pass state for Backward.
	xhat    []float32
	mean    []float32
	invStd  []float32
	samples int
}

func (op *BatchNorm2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 3 {
		panic("BatchNorm2DOp requires exactly 3 inputs (input, gamma, beta)")
	}

	input, gamma, beta := inputs[0], inputs[1], inputs[2]
	if len(input.Shape) != 4 {
		panic(fmt.Sprintf("BatchNorm2D input must be 4D [N, C, H, W], got shape %v", input.Shape))
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	if gamma.NumElems != c || beta.NumElems != c {
		panic(fmt.Sprintf("BatchNorm2D affine parameters must have %d elements, got %d and %d",
			c, gamma.NumElems, beta.NumElems))
	}
	if len(op.runningMean) != c || len(op.runningVar) != c {
		panic(fmt.Sprintf("BatchNorm2D running statistics must have %d elements", c))
	}
	op.inputs = inputs

	m := n * h * w
	op.samples = m
	op.mean = make([]float32, c)
	op.invStd = make([]float32, c)
	op.xhat = make([]float32, input.NumElems)

	if op.training {
		// Batch statistics per channel.
		for ch := 0; ch < c; ch++ {
			var sum float64
			for b := 0; b < n; b++ {
				base := (b*c + ch) * h * w
				for i := 0; i < h*w; i++ {
					sum += float64(input.Data[base+i])
				}
			}
			mean := float32(sum / float64(m))

			var sqSum float64
			for b := 0; b < n; b++ {
				base := (b*c + ch) * h * w
				for i := 0; i < h*w; i++ {
					d := float64(input.Data[base+i] - mean)
					sqSum += d * d
				}
			}
			variance := float32(sqSum / float64(m))

			op.mean[ch] = mean
			op.invStd[ch] = 1 / float32(math.Sqrt(float64(variance)+float64(op.eps)))

			// Running statistics track the unbiased variance.
			unbiased := variance
			if m > 1 {
				unbiased = variance * float32(m) / float32(m-1)
			}
			op.runningMean[ch] = (1-op.momentum)*op.runningMean[ch] + op.momentum*mean
			op.runningVar[ch] = (1-op.momentum)*op.runningVar[ch] + op.momentum*unbiased
		}
	} else {
		for ch := 0; ch < c; ch++ {
			op.mean[ch] = op.runningMean[ch]
			op.invStd[ch] = 1 / float32(math.Sqrt(float64(op.runningVar[ch])+float64(op.eps)))
		}
	}

	result, err := Zeros(input.Shape, input.DType, input.Device)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			base := (b*c + ch) * h * w
			for i := 0; i < h*w; i++ {
				xhat := (input.Data[base+i] - op.mean[ch]) * op.invStd[ch]
				op.xhat[base+i] = xhat
				result.Data[base+i] = gamma.Data[ch]*xhat + beta.Data[ch]
			}
		}
	}

	result.creator = op
	result.requiresGrad = input.requiresGrad || gamma.requiresGrad || beta.requiresGrad
	return result
}

func (op *BatchNorm2DOp) Backward(gradOut *Tensor) []*Tensor {
	input, gamma := op.inputs[0], op.inputs[1]
	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	m := float32(op.samples)

	gradInput, err := Zeros(input.Shape, input.DType, input.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradGamma, err := Zeros([]int{c}, input.DType, input.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradBeta, err := Zeros([]int{c}, input.DType, input.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	for ch := 0; ch < c; ch++ {
		var sumDy, sumDyXhat float64
		for b := 0; b < n; b++ {
			base := (b*c + ch) * h * w
			for i := 0; i < h*w; i++ {
				dy := float64(gradOut.Data[base+i])
				sumDy += dy
				sumDyXhat += dy * float64(op.xhat[base+i])
			}
		}
		gradBeta.Data[ch] = float32(sumDy)
		gradGamma.Data[ch] = float32(sumDyXhat)

		scale := gamma.Data[ch] * op.invStd[ch]
		if op.training {
			meanDy := float32(sumDy) / m
			meanDyXhat := float32(sumDyXhat) / m
			for b := 0; b < n; b++ {
				base := (b*c + ch) * h * w
				for i := 0; i < h*w; i++ {
					dy := gradOut.Data[base+i]
					gradInput.Data[base+i] = scale * (dy - meanDy - op.xhat[base+i]*meanDyXhat)
				}
			}
		} else {
			// Running statistics are constants in eval mode.
			for b := 0; b < n; b++ {
				base := (b*c + ch) * h * w
				for i := 0; i < h*w; i++ {
					gradInput.Data[base+i] = scale * gradOut.Data[base+i]
				}
			}
		}
	}

	return []*Tensor{gradInput, gradGamma, gradBeta}
}

func (op *BatchNorm2DOp) Inputs() []*Tensor { return op.inputs }

// BatchNorm2DAutograd applies batch normalization with automatic
// differentiation. runningMean and runningVar are owned by the caller
// and mutated in training mode.
func BatchNorm2DAutograd(input, gamma, beta *Tensor, runningMean, runningVar []float32,
	momentum, eps float32, training bool) *Tensor {
	op := &BatchNorm2DOp{
		eps:         eps,
		momentum:    momentum,
		training:    training,
		runningMean: runningMean,
		runningVar:  runningVar,
	}
	return op.Forward(input, gamma, beta)
}

package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-autoencoder/tensor"
)

// ResizeOp selects the spatial resize operator a conv block applies
// before its convolution stack.
type ResizeOp int

const (
	MaxPool ResizeOp = iota
	UpsampleNearest
)

func (r ResizeOp) String() string {
	switch r {
	case MaxPool:
		return "MaxPool"
	case UpsampleNearest:
		return "UpsampleNearest"
	default:
		return "Unknown"
	}
}

// Layer is an executing module: forward pass plus access to learnable
// parameters.
type Layer interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Name() string
}

// Param is a learnable tensor with the naming metadata the checkpoint
// schema needs.
type Param struct {
	Name   string
	Layer  string
	Type   string // "weight", "bias", "gamma", "beta"
	Tensor *tensor.Tensor
}

// ConvBlockConfig holds the structural parameters of one block, fixed
// at model-construction time.
type ConvBlockConfig struct {
	InChannels      int      `json:"in_channels"`
	OutChannels     int      `json:"out_channels"`
	NumHiddenLayers int      `json:"num_hidden_layers"`
	Resize          ResizeOp `json:"resize"`
	ResizeFactor    int      `json:"resize_factor"`
	Padding         int      `json:"padding"`
}

// Validate checks the structural parameters.
func (c ConvBlockConfig) Validate() error {
	if c.InChannels <= 0 {
		return fmt.Errorf("in_channels must be positive, got %d", c.InChannels)
	}
	if c.OutChannels <= 0 {
		return fmt.Errorf("out_channels must be positive, got %d", c.OutChannels)
	}
	if c.NumHiddenLayers <= 0 {
		return fmt.Errorf("num_hidden_layers must be positive, got %d", c.NumHiddenLayers)
	}
	if c.ResizeFactor <= 0 {
		return fmt.Errorf("resize_factor must be positive, got %d", c.ResizeFactor)
	}
	if c.Padding < 0 {
		return fmt.Errorf("padding must be non-negative, got %d", c.Padding)
	}
	return nil
}

const convKernelSize = 3

// Conv2DLayer is a 3x3 convolution with bias.
type Conv2DLayer struct {
	name    string
	inCh    int
	outCh   int
	padding int
	Weight  *tensor.Tensor
	Bias    *tensor.Tensor
}

// NewConv2DLayer creates a convolution layer with He-initialized
// weights and zero bias.
func NewConv2DLayer(name string, inCh, outCh, padding int, rng *rand.Rand) (*Conv2DLayer, error) {
	fanIn := inCh * convKernelSize * convKernelSize
	weight, err := tensor.KaimingNormal([]int{outCh, inCh, convKernelSize, convKernelSize},
		fanIn, tensor.Float32, tensor.CPU, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize weight for %s: %v", name, err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outCh}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bias for %s: %v", name, err)
	}
	bias.SetRequiresGrad(true)

	return &Conv2DLayer{
		name:    name,
		inCh:    inCh,
		outCh:   outCh,
		padding: padding,
		Weight:  weight,
		Bias:    bias,
	}, nil
}

func (l *Conv2DLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("%s: expected 4D input [N, C, H, W], got shape %v", l.name, input.Shape)
	}
	if input.Shape[1] != l.inCh {
		return nil, fmt.Errorf("%s: expected %d input channels, got %d", l.name, l.inCh, input.Shape[1])
	}
	return tensor.Conv2DAutograd(input, l.Weight, l.Bias, l.padding), nil
}

func (l *Conv2DLayer) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.Weight, l.Bias}
}

func (l *Conv2DLayer) Name() string { return l.name }

// BatchNorm2DLayer normalizes per channel with learnable scale and
// shift, tracking running statistics for eval mode.
type BatchNorm2DLayer struct {
	name     string
	features int
	eps      float32
	momentum float32
	training bool

	Gamma       *tensor.Tensor
	Beta        *tensor.Tensor
	RunningMean []float32
	RunningVar  []float32
}

// NewBatchNorm2DLayer creates a batch normalization layer with
// gamma=1, beta=0, running mean 0 and running variance 1.
func NewBatchNorm2DLayer(name string, features int) (*BatchNorm2DLayer, error) {
	if features <= 0 {
		return nil, fmt.Errorf("num_features must be positive, got %d", features)
	}

	gamma, err := tensor.Ones([]int{features}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	gamma.SetRequiresGrad(true)

	beta, err := tensor.Zeros([]int{features}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	beta.SetRequiresGrad(true)

	runningVar := make([]float32, features)
	for i := range runningVar {
		runningVar[i] = 1
	}

	return &BatchNorm2DLayer{
		name:        name,
		features:    features,
		eps:         1e-5,
		momentum:    0.1,
		training:    true,
		Gamma:       gamma,
		Beta:        beta,
		RunningMean: make([]float32, features),
		RunningVar:  runningVar,
	}, nil
}

func (l *BatchNorm2DLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("%s: expected 4D input [N, C, H, W], got shape %v", l.name, input.Shape)
	}
	if input.Shape[1] != l.features {
		return nil, fmt.Errorf("%s: expected %d channels, got %d", l.name, l.features, input.Shape[1])
	}
	return tensor.BatchNorm2DAutograd(input, l.Gamma, l.Beta,
		l.RunningMean, l.RunningVar, l.momentum, l.eps, l.training), nil
}

func (l *BatchNorm2DLayer) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.Gamma, l.Beta}
}

func (l *BatchNorm2DLayer) Name() string { return l.name }

// SetTraining switches between batch statistics (training) and running
// statistics (eval).
func (l *BatchNorm2DLayer) SetTraining(training bool) {
	l.training = training
}

// ReLULayer applies the ReLU activation.
type ReLULayer struct {
	name string
}

func NewReLULayer(name string) *ReLULayer {
	return &ReLULayer{name: name}
}

func (l *ReLULayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input), nil
}

func (l *ReLULayer) Parameters() []*tensor.Tensor { return nil }

func (l *ReLULayer) Name() string { return l.name }

// ResizeLayer applies the block's spatial resize operator.
type ResizeLayer struct {
	name   string
	op     ResizeOp
	factor int
}

func NewResizeLayer(name string, op ResizeOp, factor int) *ResizeLayer {
	return &ResizeLayer{name: name, op: op, factor: factor}
}

func (l *ResizeLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("%s: expected 4D input [N, C, H, W], got shape %v", l.name, input.Shape)
	}

	switch l.op {
	case MaxPool:
		if input.Shape[2]%l.factor != 0 || input.Shape[3]%l.factor != 0 {
			return nil, fmt.Errorf("%s: spatial size %dx%d not divisible by pool factor %d",
				l.name, input.Shape[2], input.Shape[3], l.factor)
		}
		return tensor.MaxPool2DAutograd(input, l.factor), nil
	case UpsampleNearest:
		return tensor.UpsampleNearest2DAutograd(input, l.factor), nil
	default:
		return nil, fmt.Errorf("%s: unsupported resize operator %s", l.name, l.op)
	}
}

func (l *ResizeLayer) Parameters() []*tensor.Tensor { return nil }

func (l *ResizeLayer) Name() string { return l.name }

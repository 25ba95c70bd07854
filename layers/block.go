package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-autoencoder/tensor"
)

// ConvBlock is a resize operator followed by a stack of
// conv -> batchnorm -> relu steps. The first convolution maps
// InChannels to OutChannels; the remaining hidden layers preserve the
// channel count.
type ConvBlock struct {
	name   string
	config ConvBlockConfig
	layers []Layer
}

// NewConvBlock builds a block from its configuration. Weights are
// initialized from rng so identical seeds give identical models.
func NewConvBlock(name string, cfg ConvBlockConfig, rng *rand.Rand) (*ConvBlock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for block %s: %v", name, err)
	}

	block := &ConvBlock{
		name:   name,
		config: cfg,
	}

	block.layers = append(block.layers,
		NewResizeLayer(fmt.Sprintf("%s.resize", name), cfg.Resize, cfg.ResizeFactor))

	inCh := cfg.InChannels
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		convName := fmt.Sprintf("%s.conv%d", name, i)
		conv, err := NewConv2DLayer(convName, inCh, cfg.OutChannels, cfg.Padding, rng)
		if err != nil {
			return nil, err
		}

		bn, err := NewBatchNorm2DLayer(fmt.Sprintf("%s.bn%d", name, i), cfg.OutChannels)
		if err != nil {
			return nil, err
		}

		block.layers = append(block.layers, conv, bn,
			NewReLULayer(fmt.Sprintf("%s.relu%d", name, i)))
		inCh = cfg.OutChannels
	}

	return block, nil
}

// Config returns the block's structural parameters.
func (b *ConvBlock) Config() ConvBlockConfig {
	return b.config
}

func (b *ConvBlock) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for _, layer := range b.layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *ConvBlock) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range b.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (b *ConvBlock) Name() string { return b.name }

// SetTraining propagates the mode switch to the block's batchnorm
// layers.
func (b *ConvBlock) SetTraining(training bool) {
	for _, layer := range b.layers {
		if bn, ok := layer.(*BatchNorm2DLayer); ok {
			bn.SetTraining(training)
		}
	}
}

// NamedParameters returns the block's learnable tensors with
// checkpoint naming metadata.
func (b *ConvBlock) NamedParameters() []Param {
	var params []Param
	for _, layer := range b.layers {
		switch l := layer.(type) {
		case *Conv2DLayer:
			params = append(params,
				Param{Name: l.Name() + ".weight", Layer: l.Name(), Type: "weight", Tensor: l.Weight},
				Param{Name: l.Name() + ".bias", Layer: l.Name(), Type: "bias", Tensor: l.Bias})
		case *BatchNorm2DLayer:
			params = append(params,
				Param{Name: l.Name() + ".weight", Layer: l.Name(), Type: "gamma", Tensor: l.Gamma},
				Param{Name: l.Name() + ".bias", Layer: l.Name(), Type: "beta", Tensor: l.Beta})
		}
	}
	return params
}

// RunningStatistics returns the block's batchnorm running statistics
// keyed by layer name.
func (b *ConvBlock) RunningStatistics() map[string][]float32 {
	stats := make(map[string][]float32)
	for _, layer := range b.layers {
		if bn, ok := layer.(*BatchNorm2DLayer); ok {
			stats[bn.Name()+".running_mean"] = bn.RunningMean
			stats[bn.Name()+".running_var"] = bn.RunningVar
		}
	}
	return stats
}

package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-autoencoder/tensor"
)

// Encoder maps an image batch through its conv blocks and flattens the
// result to a latent vector per sample. adapterShape is the expected
// [C, H, W] shape at the bottleneck.
type Encoder struct {
	blocks       []*ConvBlock
	adapterShape [3]int
}

// NewEncoder builds an encoder from block configurations.
func NewEncoder(configs []ConvBlockConfig, adapterShape [3]int, rng *rand.Rand) (*Encoder, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("encoder requires at least one conv block")
	}

	enc := &Encoder{adapterShape: adapterShape}
	for i, cfg := range configs {
		block, err := NewConvBlock(fmt.Sprintf("encoder.block%d", i), cfg, rng)
		if err != nil {
			return nil, err
		}
		enc.blocks = append(enc.blocks, block)
	}
	return enc, nil
}

func (e *Encoder) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for _, block := range e.blocks {
		out, err = block.Forward(out)
		if err != nil {
			return nil, err
		}
	}

	c, h, w := e.adapterShape[0], e.adapterShape[1], e.adapterShape[2]
	if len(out.Shape) != 4 || out.Shape[1] != c || out.Shape[2] != h || out.Shape[3] != w {
		return nil, fmt.Errorf("encoder output shape %v does not match adapter shape [%d %d %d]",
			out.Shape, c, h, w)
	}

	return tensor.ReshapeAutograd(out, []int{out.Shape[0], c * h * w}), nil
}

func (e *Encoder) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, block := range e.blocks {
		params = append(params, block.Parameters()...)
	}
	return params
}

func (e *Encoder) Name() string { return "encoder" }

// Decoder reshapes a latent vector back to the adapter shape and maps
// it through its conv blocks to image space.
type Decoder struct {
	blocks       []*ConvBlock
	adapterShape [3]int
}

// NewDecoder builds a decoder from block configurations.
func NewDecoder(configs []ConvBlockConfig, adapterShape [3]int, rng *rand.Rand) (*Decoder, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("decoder requires at least one conv block")
	}

	dec := &Decoder{adapterShape: adapterShape}
	for i, cfg := range configs {
		block, err := NewConvBlock(fmt.Sprintf("decoder.block%d", i), cfg, rng)
		if err != nil {
			return nil, err
		}
		dec.blocks = append(dec.blocks, block)
	}
	return dec, nil
}

func (d *Decoder) Forward(latent *tensor.Tensor) (*tensor.Tensor, error) {
	c, h, w := d.adapterShape[0], d.adapterShape[1], d.adapterShape[2]
	if len(latent.Shape) != 2 || latent.Shape[1] != c*h*w {
		return nil, fmt.Errorf("decoder input shape %v does not match adapter shape [%d %d %d]",
			latent.Shape, c, h, w)
	}

	out := tensor.ReshapeAutograd(latent, []int{latent.Shape[0], c, h, w})
	var err error
	for _, block := range d.blocks {
		out, err = block.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *Decoder) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, block := range d.blocks {
		params = append(params, block.Parameters()...)
	}
	return params
}

func (d *Decoder) Name() string { return "decoder" }

// AutoEncoder wraps an encoder and decoder into one forward pass,
// bound to a compute device.
type AutoEncoder struct {
	Encoder *Encoder
	Decoder *Decoder
	device  tensor.DeviceType
}

// NewAutoEncoder binds an encoder/decoder pair to the named device.
// Unknown device identifiers fail fast.
func NewAutoEncoder(encoder *Encoder, decoder *Decoder, device string) (*AutoEncoder, error) {
	dev, err := tensor.ParseDevice(device)
	if err != nil {
		return nil, err
	}

	return &AutoEncoder{
		Encoder: encoder,
		Decoder: decoder,
		device:  dev,
	}, nil
}

// Device returns the device the model is bound to.
func (ae *AutoEncoder) Device() tensor.DeviceType {
	return ae.device
}

// Forward reconstructs the input batch: decode(encode(batch)).
func (ae *AutoEncoder) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	latent, err := ae.Encoder.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("encoder forward failed: %w", err)
	}

	out, err := ae.Decoder.Forward(latent)
	if err != nil {
		return nil, fmt.Errorf("decoder forward failed: %w", err)
	}
	return out, nil
}

// Parameters returns all learnable tensors of the model.
func (ae *AutoEncoder) Parameters() []*tensor.Tensor {
	return append(ae.Encoder.Parameters(), ae.Decoder.Parameters()...)
}

// NamedParameters returns all learnable tensors with checkpoint
// naming metadata, encoder first.
func (ae *AutoEncoder) NamedParameters() []Param {
	var params []Param
	for _, block := range ae.Encoder.blocks {
		params = append(params, block.NamedParameters()...)
	}
	for _, block := range ae.Decoder.blocks {
		params = append(params, block.NamedParameters()...)
	}
	return params
}

// RunningStatistics collects batchnorm running statistics from every
// block, keyed by layer name.
func (ae *AutoEncoder) RunningStatistics() map[string][]float32 {
	stats := make(map[string][]float32)
	for _, block := range ae.Encoder.blocks {
		for k, v := range block.RunningStatistics() {
			stats[k] = v
		}
	}
	for _, block := range ae.Decoder.blocks {
		for k, v := range block.RunningStatistics() {
			stats[k] = v
		}
	}
	return stats
}

// SetTraining switches every batchnorm layer between training and
// eval mode.
func (ae *AutoEncoder) SetTraining(training bool) {
	for _, block := range ae.Encoder.blocks {
		block.SetTraining(training)
	}
	for _, block := range ae.Decoder.blocks {
		block.SetTraining(training)
	}
}

// BlockConfigs returns the encoder and decoder block configurations,
// in order.
func (ae *AutoEncoder) BlockConfigs() (encoder, decoder []ConvBlockConfig) {
	for _, block := range ae.Encoder.blocks {
		encoder = append(encoder, block.Config())
	}
	for _, block := range ae.Decoder.blocks {
		decoder = append(decoder, block.Config())
	}
	return encoder, decoder
}

// AdapterShape returns the bottleneck [C, H, W] shape.
func (ae *AutoEncoder) AdapterShape() [3]int {
	return ae.Encoder.adapterShape
}

// DefaultEncoderConfig returns the fixed 4-level encoder topology:
// channel progression 3-8-8-8-8, each block downsampling by 2, three
// hidden conv layers per block, padding 1.
func DefaultEncoderConfig() []ConvBlockConfig {
	configs := make([]ConvBlockConfig, 4)
	inCh := 3
	for i := range configs {
		configs[i] = ConvBlockConfig{
			InChannels:      inCh,
			OutChannels:     8,
			NumHiddenLayers: 3,
			Resize:          MaxPool,
			ResizeFactor:    2,
			Padding:         1,
		}
		inCh = 8
	}
	return configs
}

// DefaultDecoderConfig returns the matching 4-level decoder topology:
// channel progression 8-8-8-8-3, each block upsampling by 2.
func DefaultDecoderConfig() []ConvBlockConfig {
	configs := make([]ConvBlockConfig, 4)
	for i := range configs {
		outCh := 8
		if i == len(configs)-1 {
			outCh = 3
		}
		configs[i] = ConvBlockConfig{
			InChannels:      8,
			OutChannels:     outCh,
			NumHiddenLayers: 3,
			Resize:          UpsampleNearest,
			ResizeFactor:    2,
			Padding:         1,
		}
	}
	return configs
}

// DefaultAdapterShape returns the bottleneck shape for the default
// topology on 256x256 input: 8 channels at 16x16.
func DefaultAdapterShape() [3]int {
	return [3]int{8, 16, 16}
}

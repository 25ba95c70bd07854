package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-autoencoder/tensor"
)

// Dataset provides indexed access to samples. For reconstruction
// training each sample is its own target, so Get returns a single
// [C, H, W] tensor.
type Dataset interface {
	// Len returns the number of samples in the dataset.
	Len() int

	// Get returns the sample at the given index.
	Get(index int) (*tensor.Tensor, error)
}

// Batch is one stacked mini-batch of samples.
type Batch struct {
	// Data holds the batch in [N, C, H, W] layout.
	Data *tensor.Tensor

	// Size is the number of samples in this batch. The final batch
	// of an epoch may be smaller than the configured batch size.
	Size int
}

// DataLoader iterates over a dataset in mini-batches, optionally
// shuffling the sample order each epoch.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	indices  []int
	position int
}

// NewDataLoader creates a data loader. When shuffle is set, rng drives
// the per-epoch permutation so runs with the same seed visit samples
// in the same order.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   make([]int, dataset.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	dl.Reset()
	return dl, nil
}

// Reset rewinds the loader to the start of the dataset, reshuffling
// when shuffle is enabled.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext reports whether another batch is available this epoch.
func (dl *DataLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Samples returns the number of samples in the underlying dataset.
func (dl *DataLoader) Samples() int {
	return dl.dataset.Len()
}

// Next returns the next batch, or nil when the epoch is exhausted.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	return dl.loadBatch(batchIndices)
}

// loadBatch stacks individual [C, H, W] samples into one [N, C, H, W]
// tensor.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	first, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}
	if len(first.Shape) != 3 {
		return nil, fmt.Errorf("sample %d has shape %v, expected [C, H, W]", indices[0], first.Shape)
	}

	n := len(indices)
	sampleElems := first.NumElems
	data := make([]float32, n*sampleElems)
	copy(data, first.Data)

	for i, idx := range indices[1:] {
		sample, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if !sample.ShapeEquals(first) {
			return nil, fmt.Errorf("sample %d has shape %v, expected %v", idx, sample.Shape, first.Shape)
		}
		copy(data[(i+1)*sampleElems:], sample.Data)
	}

	shape := append([]int{n}, first.Shape...)
	batchTensor, err := tensor.NewTensor(shape, first.DType, first.Device, data)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble batch tensor: %v", err)
	}

	return &Batch{Data: batchTensor, Size: n}, nil
}

// TensorDataset is an in-memory dataset over pre-built sample tensors.
type TensorDataset struct {
	samples []*tensor.Tensor
}

// NewTensorDataset wraps a slice of [C, H, W] tensors as a dataset.
func NewTensorDataset(samples []*tensor.Tensor) *TensorDataset {
	return &TensorDataset{samples: samples}
}

func (d *TensorDataset) Len() int {
	return len(d.samples)
}

func (d *TensorDataset) Get(index int) (*tensor.Tensor, error) {
	if index < 0 || index >= len(d.samples) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.samples))
	}
	return d.samples[index], nil
}

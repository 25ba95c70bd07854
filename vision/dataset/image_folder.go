// Package dataset discovers image files on disk and serves them as
// training samples.
package dataset

import (
	"fmt"
	"io/fs"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-autoencoder/tensor"
	"github.com/tsawler/go-autoencoder/vision/preprocessing"
)

// defaultExtensions are the image types accepted when the caller does
// not restrict them.
var defaultExtensions = []string{".jpg", ".jpeg", ".png"}

// ScanDir walks root recursively and returns the sorted paths of all
// image files with one of the given extensions (case-insensitive).
// A nil extensions slice accepts jpg, jpeg and png. Scanning a
// directory without any matching files is an error.
func ScanDir(root string, extensions []string) ([]string, error) {
	if extensions == nil {
		extensions = defaultExtensions
	}

	accepted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		accepted[strings.ToLower(ext)] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if accepted[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %v", root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files found in %s", root)
	}

	sort.Strings(paths)
	return paths, nil
}

// SplitPaths shuffles the paths with rng and splits them into train
// and test sets. The train set holds int(len(paths) * trainSize)
// samples; the remainder is the test set, which may be empty for
// small inputs.
func SplitPaths(paths []string, trainSize float64, rng *rand.Rand) (train, test []string) {
	shuffled := append([]string(nil), paths...)
	if rng != nil {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}

	trainCount := int(float64(len(shuffled)) * trainSize)
	return shuffled[:trainCount], shuffled[trainCount:]
}

// ImageDataset serves image files as tensors, decoding lazily on
// access so the full dataset never has to fit in memory.
type ImageDataset struct {
	paths     []string
	processor *preprocessing.ImageProcessor
}

// NewImageDataset creates a dataset over the given image paths.
func NewImageDataset(paths []string, processor *preprocessing.ImageProcessor) *ImageDataset {
	return &ImageDataset{
		paths:     paths,
		processor: processor,
	}
}

// Len returns the number of images.
func (d *ImageDataset) Len() int {
	return len(d.paths)
}

// Get loads and preprocesses the image at the given index.
func (d *ImageDataset) Get(index int) (*tensor.Tensor, error) {
	if index < 0 || index >= len(d.paths) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.paths))
	}
	return d.processor.ProcessFile(d.paths[index])
}

// Path returns the file path of the sample at the given index.
func (d *ImageDataset) Path(index int) string {
	return d.paths[index]
}

// Package preprocessing converts decoded images into model-ready
// tensors.
package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/tsawler/go-autoencoder/tensor"
)

// ImageProcessor resizes images to a square target size and converts
// them to [C, H, W] float32 tensors with values in [0, 1]. The
// processor reuses an internal scratch image across calls and is not
// safe for concurrent use.
type ImageProcessor struct {
	size    int
	scratch *image.RGBA
}

// NewImageProcessor creates a processor for the given square output
// size.
func NewImageProcessor(size int) *ImageProcessor {
	return &ImageProcessor{
		size:    size,
		scratch: image.NewRGBA(image.Rect(0, 0, size, size)),
	}
}

// Size returns the square output size.
func (p *ImageProcessor) Size() int {
	return p.size
}

// ProcessFile decodes and converts an image file. JPEG and PNG are
// supported.
func (p *ImageProcessor) ProcessFile(path string) (*tensor.Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %v", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %v", path, err)
	}

	return p.Process(img)
}

// Process resizes and converts a decoded image.
func (p *ImageProcessor) Process(img image.Image) (*tensor.Tensor, error) {
	draw.ApproxBiLinear.Scale(p.scratch, p.scratch.Bounds(), img, img.Bounds(), draw.Src, nil)

	size := p.size
	data := make([]float32, 3*size*size)
	plane := size * size

	for y := 0; y < size; y++ {
		row := p.scratch.Pix[y*p.scratch.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			idx := y*size + x
			data[idx] = float32(px[0]) / 255.0
			data[plane+idx] = float32(px[1]) / 255.0
			data[2*plane+idx] = float32(px[2]) / 255.0
		}
	}

	return tensor.NewTensor([]int{3, size, size}, tensor.Float32, tensor.CPU, data)
}

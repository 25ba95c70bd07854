package training

import (
	"fmt"

	"github.com/tsawler/go-autoencoder/tensor"
)

// Loss computes a scalar training objective from a prediction and a
// target.
type Loss interface {
	// Forward computes the scalar loss tensor. The result carries
	// autograd history so Backward can reach the model parameters.
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)

	// Name returns the loss name for logging.
	Name() string
}

// MSELoss is mean squared error over all elements.
type MSELoss struct{}

// NewMSELoss creates a mean squared error loss.
func NewMSELoss() *MSELoss {
	return &MSELoss{}
}

func (l *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if !predicted.ShapeEquals(target) {
		return nil, fmt.Errorf("prediction shape %v does not match target shape %v",
			predicted.Shape, target.Shape)
	}
	return tensor.MSEAutograd(predicted, target), nil
}

func (l *MSELoss) Name() string { return "MSELoss" }

package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsawler/go-autoencoder/checkpoints"
	"github.com/tsawler/go-autoencoder/layers"
)

// TrainArtifact bundles the result of one training run: the trained
// model and its loss metrics.
type TrainArtifact struct {
	Model *layers.AutoEncoder

	// TrainLosses holds one accumulated loss per epoch, in order.
	TrainLosses []float64

	// BaselineLoss is the test-split loss of the untrained model,
	// nil when no test split was provided.
	BaselineLoss *float64

	// TestLoss is the test-split loss after training, nil when no
	// test split was provided.
	TestLoss *float64

	Epochs       int
	LearningRate float32
	TotalSteps   int
	ImageSize    int
}

// Metrics is the serialized metric set of a training run. Absent test
// metrics serialize as null.
type Metrics struct {
	BaselineLoss *float64  `json:"baseline_loss"`
	TrainLosses  []float64 `json:"train_losses"`
	TestLoss     *float64  `json:"test_loss"`
}

// Metrics returns the artifact's metrics in serializable form.
func (a *TrainArtifact) Metrics() Metrics {
	return Metrics{
		BaselineLoss: a.BaselineLoss,
		TrainLosses:  a.TrainLosses,
		TestLoss:     a.TestLoss,
	}
}

// DumpMetrics writes the loss metrics as JSON, creating parent
// directories as needed and overwriting any existing file.
func (a *TrainArtifact) DumpMetrics(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %v", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(a.Metrics()); err != nil {
		return fmt.Errorf("failed to encode metrics: %v", err)
	}
	return nil
}

// LoadMetrics reads a metrics file written by DumpMetrics.
func LoadMetrics(path string) (*Metrics, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %v", err)
	}
	defer file.Close()

	var m Metrics
	if err := json.NewDecoder(file).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %v", err)
	}
	return &m, nil
}

// DumpModel writes the trained model as a JSON checkpoint.
func (a *TrainArtifact) DumpModel(path string) error {
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)
	return saver.SaveCheckpoint(a.checkpoint(), path)
}

// DumpONNX exports the trained model as an ONNX file for external
// inference runtimes.
func (a *TrainArtifact) DumpONNX(path string) error {
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatONNX)
	return saver.SaveCheckpoint(a.checkpoint(), path)
}

func (a *TrainArtifact) checkpoint() *checkpoints.Checkpoint {
	finalLoss := 0.0
	if len(a.TrainLosses) > 0 {
		finalLoss = a.TrainLosses[len(a.TrainLosses)-1]
	}

	return checkpoints.FromModel(a.Model, a.ImageSize, checkpoints.TrainingState{
		Epochs:       a.Epochs,
		LearningRate: a.LearningRate,
		FinalLoss:    finalLoss,
		TotalSteps:   a.TotalSteps,
	}, nil)
}

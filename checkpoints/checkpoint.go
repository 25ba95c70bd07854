package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-autoencoder/layers"
)

// CheckpointFormat defines the serialization format.
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatONNX
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// Architecture describes the autoencoder topology, enough to rebuild
// the model that a set of weights belongs to.
type Architecture struct {
	EncoderBlocks []layers.ConvBlockConfig `json:"encoder_blocks"`
	DecoderBlocks []layers.ConvBlockConfig `json:"decoder_blocks"`
	AdapterShape  [3]int                   `json:"adapter_shape"`
	InputSize     int                      `json:"input_size"`
}

// Checkpoint represents a complete model state: architecture, named
// weights, batchnorm running statistics, training progress and
// optimizer state.
type Checkpoint struct {
	Architecture Architecture   `json:"architecture"`
	Weights      []WeightTensor `json:"weights"`

	// Non-learnable batchnorm statistics, keyed by layer name.
	RunningStatistics map[string][]float32 `json:"running_statistics,omitempty"`

	TrainingState TrainingState `json:"training_state"`

	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data: an
// explicit named-tensor-to-shape-and-values mapping.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias", "gamma", "beta"
}

// TrainingState captures the training progress at save time.
type TrainingState struct {
	Epochs       int     `json:"epochs"`
	LearningRate float32 `json:"learning_rate"`
	FinalLoss    float64 `json:"final_loss"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (momentum,
// variance, etc.).
type OptimizerState struct {
	Type       string                 `json:"type"` // "Adam", "SGD"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents one optimizer state tensor.
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "variance", "velocity"
}

// CheckpointMetadata contains checkpoint metadata.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats.
type CheckpointSaver struct {
	format        CheckpointFormat
	halfPrecision bool
}

// NewCheckpointSaver creates a new checkpoint saver for the specified
// format.
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// SetHalfPrecision enables float16 weight payloads for the ONNX
// format. JSON checkpoints always keep full precision since they are
// the round-trip format.
func (cs *CheckpointSaver) SetHalfPrecision(enabled bool) {
	cs.halfPrecision = enabled
}

// SaveCheckpoint saves a complete model checkpoint, creating parent
// directories as needed and overwriting any existing file.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %v", err)
		}
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatONNX:
		exporter := NewONNXExporter()
		exporter.SetHalfPrecision(cs.halfPrecision)
		return exporter.ExportToONNX(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint. Only the JSON format
// round-trips; ONNX is export-only.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	default:
		return nil, fmt.Errorf("loading is not supported for format %s", cs.format.String())
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-autoencoder"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &checkpoint, nil
}

// ExtractWeights extracts all learnable tensors from the model as
// named weight tensors.
func ExtractWeights(model *layers.AutoEncoder) []WeightTensor {
	var weights []WeightTensor
	for _, p := range model.NamedParameters() {
		data := make([]float32, p.Tensor.NumElems)
		copy(data, p.Tensor.Data)

		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  data,
			Layer: p.Layer,
			Type:  p.Type,
		})
	}
	return weights
}

// LoadWeights loads weight data back into the model by name, checking
// shapes.
func LoadWeights(model *layers.AutoEncoder, weights []WeightTensor) error {
	weightMap := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		weightMap[w.Name] = w
	}

	for _, p := range model.NamedParameters() {
		w, ok := weightMap[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no weight named %s", p.Name)
		}

		if len(w.Data) != p.Tensor.NumElems {
			return fmt.Errorf("weight %s has %d elements, model expects %d",
				p.Name, len(w.Data), p.Tensor.NumElems)
		}
		for i, dim := range p.Tensor.Shape {
			if i >= len(w.Shape) || w.Shape[i] != dim {
				return fmt.Errorf("shape mismatch for weight %s: checkpoint %v vs model %v",
					p.Name, w.Shape, p.Tensor.Shape)
			}
		}

		copy(p.Tensor.Data, w.Data)
	}
	return nil
}

// RestoreRunningStatistics copies saved batchnorm statistics back into
// the model.
func RestoreRunningStatistics(model *layers.AutoEncoder, stats map[string][]float32) error {
	modelStats := model.RunningStatistics()
	for name, saved := range stats {
		dst, ok := modelStats[name]
		if !ok {
			return fmt.Errorf("model has no running statistic named %s", name)
		}
		if len(saved) != len(dst) {
			return fmt.Errorf("running statistic %s has %d values, model expects %d",
				name, len(saved), len(dst))
		}
		copy(dst, saved)
	}
	return nil
}

// FromModel assembles a checkpoint from a trained model.
func FromModel(model *layers.AutoEncoder, inputSize int, state TrainingState, optState *OptimizerState) *Checkpoint {
	encoderCfg, decoderCfg := model.BlockConfigs()
	return &Checkpoint{
		Architecture: Architecture{
			EncoderBlocks: encoderCfg,
			DecoderBlocks: decoderCfg,
			AdapterShape:  model.AdapterShape(),
			InputSize:     inputSize,
		},
		Weights:           ExtractWeights(model),
		RunningStatistics: model.RunningStatistics(),
		TrainingState:     state,
		OptimizerState:    optState,
	}
}

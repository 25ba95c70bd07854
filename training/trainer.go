package training

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/tsawler/go-autoencoder/layers"
	"github.com/tsawler/go-autoencoder/optimizer"
	"github.com/tsawler/go-autoencoder/tensor"
	"github.com/tsawler/go-autoencoder/vision/dataset"
	"github.com/tsawler/go-autoencoder/vision/preprocessing"
)

// Config describes a training run: model topology, data location and
// run behavior. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// EncoderBlocks and DecoderBlocks define the model topology.
	EncoderBlocks []layers.ConvBlockConfig
	DecoderBlocks []layers.ConvBlockConfig

	// AdapterShape is the expected [C, H, W] bottleneck shape.
	AdapterShape [3]int

	// DataRoot is the directory scanned for training images.
	DataRoot string

	// ImageSize is the square side length images are resized to.
	ImageSize int

	// LogEvery logs the accumulated loss of every LogEvery-th epoch.
	LogEvery int

	// Seed drives weight initialization and data shuffling, so two
	// runs with the same seed and data produce the same model.
	Seed int64
}

// DefaultConfig returns the standard autoencoder training
// configuration: the default 4-level topology on 256x256 images.
func DefaultConfig(dataRoot string) Config {
	return Config{
		EncoderBlocks: layers.DefaultEncoderConfig(),
		DecoderBlocks: layers.DefaultDecoderConfig(),
		AdapterShape:  layers.DefaultAdapterShape(),
		DataRoot:      dataRoot,
		ImageSize:     256,
		LogEvery:      10,
		Seed:          1,
	}
}

// FitOptions control one call to Fit.
type FitOptions struct {
	LearningRate float32
	Epochs       int
	Device       string
}

// DefaultFitOptions returns the standard fit hyperparameters.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		LearningRate: 0.02,
		Epochs:       10,
		Device:       "cpu",
	}
}

// Trainer orchestrates data loading, model construction and the
// optimization loop for image reconstruction training.
type Trainer struct {
	config Config
	rng    *rand.Rand
}

// NewTrainer creates a trainer from the given configuration.
func NewTrainer(config Config) (*Trainer, error) {
	if len(config.EncoderBlocks) == 0 || len(config.DecoderBlocks) == 0 {
		return nil, fmt.Errorf("trainer requires encoder and decoder block configurations")
	}
	for i, cfg := range config.EncoderBlocks {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("encoder block %d: %v", i, err)
		}
	}
	for i, cfg := range config.DecoderBlocks {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("decoder block %d: %v", i, err)
		}
	}
	if config.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", config.ImageSize)
	}
	if config.LogEvery <= 0 {
		return nil, fmt.Errorf("log interval must be positive, got %d", config.LogEvery)
	}

	return &Trainer{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Config returns the trainer configuration.
func (t *Trainer) Config() Config {
	return t.config
}

// GetData scans the configured data directory and returns two
// independently shuffled loaders. trainSize is the fraction of samples
// assigned to the training split; the test loader is nil when the
// split leaves no test samples.
func (t *Trainer) GetData(trainSize float64, batchSize int) (*DataLoader, *DataLoader, error) {
	if trainSize <= 0 || trainSize >= 1 {
		return nil, nil, fmt.Errorf("train size must be in (0, 1), got %g", trainSize)
	}
	if batchSize <= 0 {
		return nil, nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	paths, err := dataset.ScanDir(t.config.DataRoot, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan data directory: %w", err)
	}

	trainPaths, testPaths := dataset.SplitPaths(paths, trainSize, t.rng)
	if len(trainPaths) == 0 {
		return nil, nil, fmt.Errorf("split produced no training samples from %d images", len(paths))
	}

	processor := preprocessing.NewImageProcessor(t.config.ImageSize)

	trainLoader, err := NewDataLoader(dataset.NewImageDataset(trainPaths, processor), batchSize, true, t.rng)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create train loader: %v", err)
	}

	var testLoader *DataLoader
	if len(testPaths) > 0 {
		// The test loader gets its own random source, derived from
		// the trainer seed so runs stay reproducible.
		testRNG := rand.New(rand.NewSource(t.rng.Int63()))
		testLoader, err = NewDataLoader(dataset.NewImageDataset(testPaths, processor), batchSize, true, testRNG)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create test loader: %v", err)
		}
	}

	return trainLoader, testLoader, nil
}

// Fit trains a fresh model on the train loader and returns the
// training artifact. When test is non-nil the artifact carries the
// reconstruction loss of the untrained model (baseline) and of the
// trained model on the test split.
func (t *Trainer) Fit(train, test *DataLoader, opts FitOptions) (*TrainArtifact, error) {
	if train == nil {
		return nil, fmt.Errorf("train loader is required")
	}
	if opts.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", opts.LearningRate)
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", opts.Epochs)
	}
	if _, err := tensor.ParseDevice(opts.Device); err != nil {
		return nil, err
	}

	model, err := t.buildModel(opts.Device)
	if err != nil {
		return nil, err
	}

	adamConfig := optimizer.DefaultAdamConfig()
	adamConfig.LearningRate = opts.LearningRate
	adam, err := optimizer.NewAdam(adamConfig, model.Parameters())
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %v", err)
	}

	loss := NewMSELoss()

	var baselineLoss *float64
	if test != nil {
		bl, err := t.evaluate(model, test, loss)
		if err != nil {
			return nil, fmt.Errorf("baseline evaluation failed: %w", err)
		}
		baselineLoss = &bl
		log.Printf("baseline loss: %.6f", bl)
	}

	trainLosses := make([]float64, 0, opts.Epochs)
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		epochLoss, err := t.trainEpoch(model, train, loss, adam)
		if err != nil {
			return nil, fmt.Errorf("epoch %d failed: %w", epoch, err)
		}
		trainLosses = append(trainLosses, epochLoss)
		if epoch%t.config.LogEvery == 0 {
			log.Printf("epoch %d/%d, loss: %.6f", epoch, opts.Epochs, epochLoss)
		}
	}

	var testLoss *float64
	if test != nil {
		tl, err := t.evaluate(model, test, loss)
		if err != nil {
			return nil, fmt.Errorf("final evaluation failed: %w", err)
		}
		testLoss = &tl
		log.Printf("test loss: %.6f", tl)
	}

	return &TrainArtifact{
		Model:        model,
		TrainLosses:  trainLosses,
		BaselineLoss: baselineLoss,
		TestLoss:     testLoss,
		Epochs:       opts.Epochs,
		LearningRate: opts.LearningRate,
		TotalSteps:   int(adam.GetStepCount()),
		ImageSize:    t.config.ImageSize,
	}, nil
}

// buildModel constructs the autoencoder from the configured topology,
// drawing initial weights from the trainer's seeded random source.
func (t *Trainer) buildModel(device string) (*layers.AutoEncoder, error) {
	encoder, err := layers.NewEncoder(t.config.EncoderBlocks, t.config.AdapterShape, t.rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %v", err)
	}
	decoder, err := layers.NewDecoder(t.config.DecoderBlocks, t.config.AdapterShape, t.rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %v", err)
	}
	return layers.NewAutoEncoder(encoder, decoder, device)
}

// trainEpoch runs one pass over the training data and returns the
// accumulated epoch loss: the sum over batches of the mean squared
// error divided by the batch size.
func (t *Trainer) trainEpoch(model *layers.AutoEncoder, train *DataLoader, loss Loss, opt optimizer.Optimizer) (float64, error) {
	model.SetTraining(true)
	train.Reset()

	epochLoss := 0.0
	for train.HasNext() {
		batch, err := train.Next()
		if err != nil {
			return 0, err
		}

		opt.ZeroGrad()

		output, err := model.Forward(batch.Data)
		if err != nil {
			return 0, err
		}

		batchLoss, err := loss.Forward(output, batch.Data)
		if err != nil {
			return 0, err
		}

		if err := tensor.Backward(batchLoss); err != nil {
			return 0, fmt.Errorf("backward pass failed: %v", err)
		}
		if err := opt.Step(); err != nil {
			return 0, fmt.Errorf("optimizer step failed: %v", err)
		}

		lossValue, err := batchLoss.Item()
		if err != nil {
			return 0, err
		}
		epochLoss += float64(lossValue) / float64(batch.Size)
	}

	return epochLoss, nil
}

// evaluate computes the accumulated reconstruction loss over a loader
// without touching gradients. Batchnorm layers use running statistics
// for the duration.
func (t *Trainer) evaluate(model *layers.AutoEncoder, loader *DataLoader, loss Loss) (float64, error) {
	model.SetTraining(false)
	defer model.SetTraining(true)

	loader.Reset()

	total := 0.0
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return 0, err
		}

		output, err := model.Forward(batch.Data)
		if err != nil {
			return 0, err
		}

		batchLoss, err := loss.Forward(output, batch.Data)
		if err != nil {
			return 0, err
		}

		lossValue, err := batchLoss.Item()
		if err != nil {
			return 0, err
		}
		total += float64(lossValue) / float64(batch.Size)
	}

	return total, nil
}

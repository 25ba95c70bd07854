package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LossSummary condenses an epoch loss curve into headline numbers.
type LossSummary struct {
	// Final is the last epoch's loss.
	Final float64

	// Best is the lowest loss seen across epochs.
	Best float64

	// Mean is the average loss across epochs.
	Mean float64

	// Improvement is first-epoch loss minus final loss; positive
	// when training made progress.
	Improvement float64
}

// Summarize reduces an epoch loss curve to a summary.
func Summarize(losses []float64) (*LossSummary, error) {
	if len(losses) == 0 {
		return nil, fmt.Errorf("no losses to summarize")
	}

	return &LossSummary{
		Final:       losses[len(losses)-1],
		Best:        floats.Min(losses),
		Mean:        stat.Mean(losses, nil),
		Improvement: losses[0] - losses[len(losses)-1],
	}, nil
}

func (s *LossSummary) String() string {
	return fmt.Sprintf("final=%.6f best=%.6f mean=%.6f improvement=%.6f",
		s.Final, s.Best, s.Mean, s.Improvement)
}

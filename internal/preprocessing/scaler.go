package preprocessing

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var ErrNotFitted = errors.New("scaler must be fitted before transform")

// StandardScaler centres every feature on its training mean and divides by
// the population standard deviation. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

func (s *StandardScaler) IsFitted() bool { return len(s.Mean) > 0 && len(s.Mean) == len(s.Scale) }

func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("empty dataset")
	}
	nFeatures := len(X[0])
	mean := make([]float64, nFeatures)
	scale := make([]float64, nFeatures)
	col := make([]float64, len(X))
	for j := 0; j < nFeatures; j++ {
		for i := range X {
			if len(X[i]) != nFeatures {
				return fmt.Errorf("row %d has %d features, expected %d", i, len(X[i]), nFeatures)
			}
			col[i] = X[i][j]
		}
		m, sd := stat.PopMeanStdDev(col, nil)
		mean[j] = m
		scale[j] = sd
		if sd == 0 {
			scale[j] = 1
		}
	}
	s.Mean, s.Scale = mean, scale
	return nil
}

func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i := range X {
		v, err := s.TransformOne(X[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *StandardScaler) TransformOne(x []float64) ([]float64, error) {
	if !s.IsFitted() {
		return nil, ErrNotFitted
	}
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

func (s *StandardScaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

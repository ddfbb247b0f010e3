package preprocessing

import (
	"errors"
	"math"
	"testing"
)

func TestStandardScalerFitTransform(t *testing.T) {
	X := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
		{4, 40, 5},
	}
	s := NewStandardScaler()
	out, err := s.FitTransform(X)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for j := 0; j < 2; j++ {
		var sum, sq float64
		for i := range out {
			sum += out[i][j]
		}
		mean := sum / float64(len(out))
		for i := range out {
			sq += (out[i][j] - mean) * (out[i][j] - mean)
		}
		std := math.Sqrt(sq / float64(len(out)))
		if math.Abs(mean) > 1e-12 || math.Abs(std-1) > 1e-12 {
			t.Fatalf("feature %d: expected mean 0 std 1, got %v %v", j, mean, std)
		}
	}
	if s.Scale[2] != 1 {
		t.Fatalf("constant feature should keep scale 1, got %v", s.Scale[2])
	}
	for i := range out {
		if out[i][2] != 0 {
			t.Fatalf("constant feature should map to 0, got %v", out[i][2])
		}
	}
}

func TestStandardScalerUsesStoredStatistics(t *testing.T) {
	s := NewStandardScaler()
	if err := s.Fit([][]float64{{0}, {2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := s.TransformOne([]float64{10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v[0] != 9 {
		t.Fatalf("expected (10-1)/1 = 9, got %v", v[0])
	}
}

func TestStandardScalerErrors(t *testing.T) {
	s := NewStandardScaler()
	if _, err := s.TransformOne([]float64{1}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if err := s.Fit(nil); err == nil {
		t.Fatal("expected error for empty dataset")
	}
	if err := s.Fit([][]float64{{1, 2}, {1}}); err == nil {
		t.Fatal("expected error for ragged rows")
	}
	_ = s.Fit([][]float64{{1, 2}, {3, 4}})
	if _, err := s.TransformOne([]float64{1}); err == nil {
		t.Fatal("expected error for wrong width")
	}
}

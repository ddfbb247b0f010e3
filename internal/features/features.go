package features

import (
	"irisapi/internal/data"
)

// Vectorize lays a sample out in the canonical feature order used by the
// scaler and the forest, returning the values with their names.
func Vectorize(s data.Sample) ([]float64, []string) {
	names := make([]string, 0, len(data.FeatureNames))
	vec := make([]float64, 0, len(data.FeatureNames))

	names = append(names, data.FeatureNames[0])
	vec = append(vec, s.SepalLength)
	names = append(names, data.FeatureNames[1])
	vec = append(vec, s.SepalWidth)
	names = append(names, data.FeatureNames[2])
	vec = append(vec, s.PetalLength)
	names = append(names, data.FeatureNames[3])
	vec = append(vec, s.PetalWidth)

	return vec, names
}

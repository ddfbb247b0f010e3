package data

// Sample is one flower measured in centimetres.
type Sample struct {
	SepalLength float64 `json:"sepal_length"`
	SepalWidth  float64 `json:"sepal_width"`
	PetalLength float64 `json:"petal_length"`
	PetalWidth  float64 `json:"petal_width"`
}

// Dataset is a labelled feature matrix. Row i of X has label Y[i], an
// index into ClassNames.
type Dataset struct {
	X            [][]float64
	Y            []int
	FeatureNames []string
	ClassNames   []string
}

func (d *Dataset) Len() int { return len(d.X) }

// Subset returns the rows at idx in the given order. Rows are shared, not copied.
func (d *Dataset) Subset(idx []int) ([][]float64, []int) {
	X := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, j := range idx {
		X[i] = d.X[j]
		y[i] = d.Y[j]
	}
	return X, y
}

package data

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"strconv"
)

//go:embed iris.csv
var irisCSV []byte

var (
	FeatureNames = []string{"sepal_length", "sepal_width", "petal_length", "petal_width"}
	ClassNames   = []string{"setosa", "versicolor", "virginica"}
)

// LoadIris parses the bundled reference dataset: 150 samples, 50 per class.
// Every call returns fresh slices.
func LoadIris() (*Dataset, error) {
	r := csv.NewReader(bytes.NewReader(irisCSV))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read iris csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("iris csv is empty")
	}
	nFeats := len(FeatureNames)
	ds := &Dataset{
		X:            make([][]float64, 0, len(rows)-1),
		Y:            make([]int, 0, len(rows)-1),
		FeatureNames: append([]string(nil), FeatureNames...),
		ClassNames:   append([]string(nil), ClassNames...),
	}
	for i, row := range rows[1:] {
		if len(row) != nFeats+1 {
			return nil, fmt.Errorf("iris csv row %d: expected %d columns, got %d", i+2, nFeats+1, len(row))
		}
		v := make([]float64, nFeats)
		for j := 0; j < nFeats; j++ {
			f, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("iris csv row %d column %s: %w", i+2, FeatureNames[j], err)
			}
			v[j] = f
		}
		label, err := strconv.Atoi(row[nFeats])
		if err != nil || label < 0 || label >= len(ClassNames) {
			return nil, fmt.Errorf("iris csv row %d: bad label %q", i+2, row[nFeats])
		}
		ds.X = append(ds.X, v)
		ds.Y = append(ds.Y, label)
	}
	return ds, nil
}

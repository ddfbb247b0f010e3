package data

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit shuffles each class with a generator seeded by seed and
// moves round(testSize*classCount) rows of every class to the test side, so
// both sides keep the class proportions of y. The same seed always yields
// the same split.
func StratifiedSplit(y []int, testSize float64, seed int64) (trainIdx, testIdx []int, err error) {
	if len(y) == 0 {
		return nil, nil, fmt.Errorf("cannot split empty dataset")
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be between 0 and 1, got %v", testSize)
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	labels := make([]int, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	rng := rand.New(rand.NewSource(seed))
	for _, label := range labels {
		idx := byClass[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(float64(len(idx)) * testSize))
		if nTest == 0 {
			nTest = 1
		}
		if nTest >= len(idx) {
			return nil, nil, fmt.Errorf("class %d has %d samples, too few to split", label, len(idx))
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
	rng.Shuffle(len(testIdx), func(i, j int) { testIdx[i], testIdx[j] = testIdx[j], testIdx[i] })
	return trainIdx, testIdx, nil
}

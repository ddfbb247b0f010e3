package models

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Node is one entry of a tree's flat node table. Children are indices into
// the same table and always come after their parent. Leaves carry the class
// distribution of the training rows that reached them.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	IsLeaf    bool
	Proba     []float64
}

type DecisionTree struct {
	MaxDepth           int // 0 grows until leaves are pure
	MinSamplesSplit    int
	MaxThresholdsPerFe int // 0 tries every midpoint
	MaxFeatures        int // 0 considers every feature at each split
	NClasses           int
	Seed               int64
	Nodes              []Node
	Importances        []float64
}

func NewDecisionTree() *DecisionTree {
	return &DecisionTree{MinSamplesSplit: 2}
}

func (dt *DecisionTree) Name() string { return "DecisionTree" }

func (dt *DecisionTree) Fit(X [][]float64, y []int) error {
	if err := checkTrainingSet(X, y, dt.NClasses); err != nil {
		return err
	}
	if dt.NClasses <= 0 {
		dt.NClasses = maxLabel(y) + 1
	}
	if dt.MinSamplesSplit < 2 {
		dt.MinSamplesSplit = 2
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	nFeats := len(X[0])
	dt.Nodes = dt.Nodes[:0]
	dt.Importances = make([]float64, nFeats)
	rng := rand.New(rand.NewSource(dt.Seed))
	dt.build(X, y, idx, 0, rng)

	if total := floats.Sum(dt.Importances); total > 0 {
		floats.Scale(1/total, dt.Importances)
	}
	return nil
}

func (dt *DecisionTree) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	for i, p := range dt.PredictProba(X) {
		out[i] = argmax(p)
	}
	return out
}

// PredictProba returns a copy of the leaf distribution reached by each row.
// An unfitted tree answers with the uniform distribution.
func (dt *DecisionTree) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range X {
		if len(dt.Nodes) == 0 {
			out[i] = uniform(dt.NClasses)
			continue
		}
		out[i] = append([]float64(nil), dt.leaf(X[i]).Proba...)
	}
	return out
}

func (dt *DecisionTree) FeatureImportances() []float64 {
	return append([]float64(nil), dt.Importances...)
}

func (dt *DecisionTree) leaf(x []float64) *Node {
	n := &dt.Nodes[0]
	for !n.IsLeaf {
		if x[n.Feature] <= n.Threshold {
			n = &dt.Nodes[n.Left]
		} else {
			n = &dt.Nodes[n.Right]
		}
	}
	return n
}

// build appends the subtree for idx to dt.Nodes and returns its root index.
func (dt *DecisionTree) build(X [][]float64, y []int, idx []int, depth int, rng *rand.Rand) int {
	self := len(dt.Nodes)
	proba := classProba(y, idx, dt.NClasses)
	dt.Nodes = append(dt.Nodes, Node{Feature: -1, Left: -1, Right: -1, IsLeaf: true, Proba: proba})

	if len(idx) < dt.MinSamplesSplit || (dt.MaxDepth > 0 && depth >= dt.MaxDepth) {
		return self
	}
	parentImp := gini(proba)
	if parentImp == 0 {
		return self
	}

	bestFeature := -1
	bestThr := 0.0
	bestImp := parentImp
	var leftIdxBest, rightIdxBest []int

	nFeats := len(X[0])
	feats := pickFeatures(nFeats, rng)
	for k, f := range feats {
		// Keep drawing features past MaxFeatures until some split is valid.
		if dt.MaxFeatures > 0 && k >= dt.MaxFeatures && bestFeature != -1 {
			break
		}
		for _, thr := range candidateThresholds(X, idx, f, dt.MaxThresholdsPerFe, rng) {
			lIdx, rIdx := splitIdx(X, idx, f, thr)
			if len(lIdx) == 0 || len(rIdx) == 0 {
				continue
			}
			imp := giniImpurity(y, lIdx, rIdx, dt.NClasses)
			if imp < bestImp-1e-12 {
				bestImp = imp
				bestFeature = f
				bestThr = thr
				leftIdxBest = lIdx
				rightIdxBest = rIdx
			}
		}
	}
	if bestFeature == -1 {
		return self
	}

	dt.Importances[bestFeature] += float64(len(idx)) * (parentImp - bestImp)
	left := dt.build(X, y, leftIdxBest, depth+1, rng)
	right := dt.build(X, y, rightIdxBest, depth+1, rng)

	n := &dt.Nodes[self]
	n.Feature = bestFeature
	n.Threshold = bestThr
	n.Left = left
	n.Right = right
	n.IsLeaf = false
	n.Proba = nil
	return self
}

func checkTrainingSet(X [][]float64, y []int, nClasses int) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("features and labels size mismatch: %d vs %d", len(X), len(y))
	}
	nFeats := len(X[0])
	if nFeats == 0 {
		return fmt.Errorf("training rows have no features")
	}
	for i := range X {
		if len(X[i]) != nFeats {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(X[i]), nFeats)
		}
		if y[i] < 0 || (nClasses > 0 && y[i] >= nClasses) {
			return fmt.Errorf("label %d at row %d out of range", y[i], i)
		}
	}
	return nil
}

func uniform(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = 1 / float64(n)
	}
	return p
}

// argmax breaks ties towards the lowest class index.
func argmax(p []float64) int {
	if len(p) == 0 {
		return 0
	}
	return floats.MaxIdx(p)
}

func maxLabel(y []int) int {
	m := 0
	for _, v := range y {
		if v > m {
			m = v
		}
	}
	return m
}

func classProba(y []int, idx []int, nClasses int) []float64 {
	p := make([]float64, nClasses)
	for _, i := range idx {
		p[y[i]]++
	}
	if len(idx) > 0 {
		floats.Scale(1/float64(len(idx)), p)
	}
	return p
}

func gini(p []float64) float64 {
	g := 1.0
	for _, v := range p {
		g -= v * v
	}
	return g
}

func splitIdx(X [][]float64, idx []int, f int, thr float64) ([]int, []int) {
	l := make([]int, 0, len(idx))
	r := make([]int, 0, len(idx))
	for _, i := range idx {
		if X[i][f] <= thr {
			l = append(l, i)
		} else {
			r = append(r, i)
		}
	}
	return l, r
}

// giniImpurity is the size-weighted Gini impurity of a candidate split.
func giniImpurity(y []int, lIdx, rIdx []int, nClasses int) float64 {
	wl := float64(len(lIdx))
	wr := float64(len(rIdx))
	n := wl + wr
	return (wl/n)*gini(classProba(y, lIdx, nClasses)) + (wr/n)*gini(classProba(y, rIdx, nClasses))
}

// candidateThresholds returns midpoints between consecutive distinct values
// of feature f, subsampled to maxC when maxC > 0.
func candidateThresholds(X [][]float64, idx []int, f int, maxC int, rng *rand.Rand) []float64 {
	values := make([]float64, len(idx))
	for j, i := range idx {
		values[j] = X[i][f]
	}
	sort.Float64s(values)
	out := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			out = append(out, values[i-1]+(values[i]-values[i-1])/2)
		}
	}
	if maxC > 0 && len(out) > maxC {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		out = out[:maxC]
	}
	return out
}

// pickFeatures returns all feature indices in random order.
func pickFeatures(nFeats int, rng *rand.Rand) []int {
	return rng.Perm(nFeats)
}

package models

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

type RandomForest struct {
	NEstimators        int
	MaxDepth           int // 0 means unbounded
	MinSamples         int
	MaxThresholdsPerFe int
	MaxFeatures        int // 0 picks sqrt(n_features)
	NClasses           int
	Seed               int64
	Workers            int
	Trees              []*DecisionTree
	Importances        []float64
}

func NewRandomForest() *RandomForest {
	return &RandomForest{NEstimators: 100, MinSamples: 2, Workers: 4, Trees: []*DecisionTree{}}
}

func (rf *RandomForest) Name() string { return "Random Forest" }

// Fit grows NEstimators trees on bootstrap samples. Every tree gets its own
// generator derived from Seed before any work starts, so the fitted forest
// does not depend on Workers or scheduling.
func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	return rf.FitContext(context.Background(), X, y)
}

func (rf *RandomForest) FitContext(ctx context.Context, X [][]float64, y []int) error {
	if rf.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", rf.NEstimators)
	}
	if err := checkTrainingSet(X, y, rf.NClasses); err != nil {
		return err
	}
	if rf.NClasses <= 0 {
		rf.NClasses = maxLabel(y) + 1
	}
	n := len(X)
	nFeats := len(X[0])
	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Min(float64(nFeats), math.Sqrt(float64(nFeats)))))
	}

	master := rand.New(rand.NewSource(rf.Seed))
	seeds := make([]int64, rf.NEstimators)
	for k := range seeds {
		seeds[k] = master.Int63()
	}

	trees := make([]*DecisionTree, rf.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	workers := rf.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for k := range trees {
		k := k
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[k]))
			Xb := make([][]float64, n)
			yb := make([]int, n)
			for i := 0; i < n; i++ {
				j := rng.Intn(n)
				Xb[i] = X[j]
				yb[i] = y[j]
			}
			dt := NewDecisionTree()
			dt.MaxDepth = rf.MaxDepth
			if rf.MinSamples > 0 {
				dt.MinSamplesSplit = rf.MinSamples
			}
			dt.MaxThresholdsPerFe = rf.MaxThresholdsPerFe
			dt.MaxFeatures = maxFeatures
			dt.NClasses = rf.NClasses
			dt.Seed = rng.Int63()
			if err := dt.Fit(Xb, yb); err != nil {
				return fmt.Errorf("tree %d: %w", k, err)
			}
			trees[k] = dt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.Importances = averageImportances(trees, nFeats)
	return nil
}

// averageImportances averages the per-tree normalized importances and
// renormalizes. A forest of stumps with no splits falls back to uniform
// weights so the scores always sum to one.
func averageImportances(trees []*DecisionTree, nFeats int) []float64 {
	imp := make([]float64, nFeats)
	for _, dt := range trees {
		floats.Add(imp, dt.Importances)
	}
	total := floats.Sum(imp)
	if total <= 0 {
		return uniform(nFeats)
	}
	floats.Scale(1/total, imp)
	return imp
}

func (rf *RandomForest) Predict(X [][]float64) []int {
	ps := rf.PredictProba(X)
	out := make([]int, len(ps))
	for i := range ps {
		out[i] = argmax(ps[i])
	}
	return out
}

// PredictProba averages the leaf distributions of all trees.
func (rf *RandomForest) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	if len(rf.Trees) == 0 {
		for i := range out {
			out[i] = uniform(rf.NClasses)
		}
		return out
	}
	for i := range out {
		out[i] = make([]float64, rf.NClasses)
	}
	for _, dt := range rf.Trees {
		for i := range X {
			floats.Add(out[i], dt.leaf(X[i]).Proba)
		}
	}
	m := float64(len(rf.Trees))
	for i := range out {
		floats.Scale(1/m, out[i])
	}
	return out
}

func (rf *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), rf.Importances...)
}

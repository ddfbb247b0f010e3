package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"irisapi/internal/lifecycle"
	"irisapi/pkg/utils"
)

type point struct {
	Estimators int
	Mean       float64
	Std        float64
	Min        float64
	Max        float64
}

func main() {
	logger := utils.Logger()
	defer logger.Sync()

	estimators := flag.String("estimators", "1,5,10,25,50,100,200", "comma separated n_estimators values")
	seeds := flag.Int("seeds", 5, "number of random states per point")
	maxDepth := flag.Int("max_depth", 0, "maximum tree depth (0 is unbounded)")
	workers := flag.Int("workers", 4, "trees fitted concurrently")
	outCSV := flag.String("out_csv", "data/estimator_curve.csv", "CSV output")
	outImg := flag.String("out_img", "data/estimator_curve.png", "PNG output")
	flag.Parse()

	sizes, err := parseSizes(*estimators)
	if err != nil {
		logger.Fatal("parse -estimators", zap.Error(err))
	}
	var depth *int
	if *maxDepth > 0 {
		depth = maxDepth
	}

	points, err := curve(context.Background(), lifecycle.New(logger, lifecycle.WithWorkers(*workers)), sizes, *seeds, depth)
	if err != nil {
		logger.Fatal("build curve", zap.Error(err))
	}
	for _, p := range points {
		fmt.Printf("n_estimators=%d | test=%.3f ± %.3f | min=%.3f | max=%.3f\n", p.Estimators, p.Mean, p.Std, p.Min, p.Max)
	}

	if err := writeCSV(*outCSV, points); err != nil {
		logger.Error("write csv", zap.Error(err))
	} else {
		fmt.Println("Curve saved to:", *outCSV)
	}
	if err := plotCurve(*outImg, points); err != nil {
		logger.Error("write png", zap.Error(err))
	} else {
		fmt.Println("Chart saved to:", *outImg)
	}
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("n_estimators must be at least 1, got %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no n_estimators values in %q", s)
	}
	return out, nil
}

// curve trains one model per (size, seed) pair and summarizes the test
// accuracy per size. Seeds run from 1 to nSeeds.
func curve(ctx context.Context, lc *lifecycle.Lifecycle, sizes []int, nSeeds int, depth *int) ([]point, error) {
	if nSeeds < 1 {
		return nil, fmt.Errorf("need at least one seed, got %d", nSeeds)
	}
	points := make([]point, len(sizes))
	for i, n := range sizes {
		acc := make([]float64, nSeeds)
		for s := range acc {
			meta, err := lc.Train(ctx, lifecycle.Hyperparameters{NEstimators: n, MaxDepth: depth, RandomState: int64(s + 1)})
			if err != nil {
				return nil, err
			}
			acc[s] = meta.Metrics.TestAccuracy
		}
		mean, std := stat.PopMeanStdDev(acc, nil)
		points[i] = point{Estimators: n, Mean: mean, Std: std, Min: floats.Min(acc), Max: floats.Max(acc)}
	}
	return points, nil
}

func writeCSV(path string, points []point) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"n_estimators", "test_acc_mean", "test_acc_std", "test_acc_min", "test_acc_max"}); err != nil {
		return err
	}
	for _, p := range points {
		rec := []string{
			strconv.Itoa(p.Estimators),
			fmt.Sprintf("%.6f", p.Mean), fmt.Sprintf("%.6f", p.Std),
			fmt.Sprintf("%.6f", p.Min), fmt.Sprintf("%.6f", p.Max),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func plotCurve(path string, points []point) error {
	p := plot.New()
	p.Title.Text = "Test accuracy by forest size"
	p.X.Label.Text = "n_estimators"
	p.Y.Label.Text = "Accuracy"
	p.Y.Min = 0
	p.Y.Max = 1

	mean := make(plotter.XYs, len(points))
	lo := make(plotter.XYs, len(points))
	hi := make(plotter.XYs, len(points))
	for i, pt := range points {
		x := float64(pt.Estimators)
		mean[i] = plotter.XY{X: x, Y: pt.Mean}
		lo[i] = plotter.XY{X: x, Y: pt.Min}
		hi[i] = plotter.XY{X: x, Y: pt.Max}
	}
	if err := plotutil.AddLinePoints(p, "Mean", mean, "Min", lo, "Max", hi); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

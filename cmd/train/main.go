package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"irisapi/internal/config"
	"irisapi/internal/history"
	"irisapi/internal/lifecycle"
	"irisapi/pkg/utils"
)

func main() {
	logger := utils.Logger()
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	hf := registerHyperFlags(flag.CommandLine)
	out := flag.String("out", "", "model artifact path (defaults to model.path from the config)")
	infoPath := flag.String("info", "model_info.json", "where to write the model metadata as JSON")
	chartPath := flag.String("chart", "models/feature_importance.png", "feature importance chart (empty to skip)")
	record := flag.Bool("history", true, "record the run in the training history database")
	flag.Parse()
	hf.markSet(flag.CommandLine)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *out == "" {
		*out = cfg.Model.Path
	}
	hp := hf.apply(cfg.Hyperparameters())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []lifecycle.Option{lifecycle.WithWorkers(cfg.Model.Workers)}
	if *record {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Fatal("open training history", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, lifecycle.OnTrain(func(m lifecycle.Metadata) {
			if _, err := store.Record(ctx, history.FromMetadata(m)); err != nil {
				logger.Warn("record training run", zap.Error(err))
			}
		}))
	}

	logger.Info("training model", zap.Int("n_estimators", hp.NEstimators), zap.Any("max_depth", hp.MaxDepth), zap.Int64("random_state", hp.RandomState))
	lc := lifecycle.New(logger, opts...)
	meta, err := lc.Retrain(ctx, hp, *out)
	if err != nil {
		logger.Fatal("train model", zap.Error(err))
	}

	printSummary(meta)

	if err := writeModelInfo(*infoPath, meta); err != nil {
		logger.Error("write model info", zap.Error(err))
	}
	if *chartPath != "" {
		if err := plotImportances(*chartPath, meta.FeatureImportance); err != nil {
			logger.Error("plot feature importances", zap.Error(err))
		}
	}

	fmt.Printf("\nModel saved to: %s\n", *out)
	fmt.Printf("Metadata saved to: %s\n", *infoPath)
}

// hyperFlags overrides the configured hyperparameters with the flags given
// on the command line. Flags left out keep the config value, so any value,
// zero included, can be requested explicitly.
type hyperFlags struct {
	estimators int
	maxDepth   int
	seed       int64
	set        map[string]bool
}

func registerHyperFlags(fs *flag.FlagSet) *hyperFlags {
	h := &hyperFlags{set: map[string]bool{}}
	fs.IntVar(&h.estimators, "n_estimators", 0, "number of trees (config value when unset)")
	fs.IntVar(&h.maxDepth, "max_depth", 0, "maximum tree depth, 0 is unbounded (config value when unset)")
	fs.Int64Var(&h.seed, "random_state", 0, "random seed (config value when unset)")
	return h
}

// markSet records which flags were given. Call it after fs.Parse.
func (h *hyperFlags) markSet(fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) { h.set[f.Name] = true })
}

func (h *hyperFlags) apply(hp lifecycle.Hyperparameters) lifecycle.Hyperparameters {
	if h.set["n_estimators"] {
		hp.NEstimators = h.estimators
	}
	if h.set["max_depth"] {
		if h.maxDepth == 0 {
			hp.MaxDepth = nil
		} else {
			depth := h.maxDepth
			hp.MaxDepth = &depth
		}
	}
	if h.set["random_state"] {
		hp.RandomState = h.seed
	}
	return hp
}

func printSummary(meta lifecycle.Metadata) {
	depth := "unbounded"
	if meta.Hyperparameters.MaxDepth != nil {
		depth = fmt.Sprint(*meta.Hyperparameters.MaxDepth)
	}
	fmt.Println("=== MODEL ===")
	fmt.Printf("Version: %s\n", meta.ModelVersion)
	fmt.Printf("Algorithm: %s\n", meta.Algorithm)
	fmt.Printf("Hyperparameters: n_estimators=%d max_depth=%s random_state=%d\n",
		meta.Hyperparameters.NEstimators, depth, meta.Hyperparameters.RandomState)
	fmt.Printf("Train accuracy: %.4f\n", meta.Metrics.TrainAccuracy)
	fmt.Printf("Test accuracy: %.4f\n", meta.Metrics.TestAccuracy)

	fmt.Println("\n=== FEATURE IMPORTANCE ===")
	for _, name := range sortedByImportance(meta.FeatureImportance) {
		fmt.Printf("%s: %.4f\n", name, meta.FeatureImportance[name])
	}

	info := meta.DatasetInfo
	fmt.Println("\n=== DATASET ===")
	fmt.Printf("Total samples: %d\n", info.TotalSamples)
	fmt.Printf("Train samples: %d\n", info.TrainSamples)
	fmt.Printf("Test samples: %d\n", info.TestSamples)
	fmt.Printf("Features: %v\n", info.Features)
	fmt.Printf("Classes: %v\n", info.Classes)
}

func sortedByImportance(imp map[string]float64) []string {
	names := make([]string, 0, len(imp))
	for name := range imp {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if imp[names[i]] != imp[names[j]] {
			return imp[names[i]] > imp[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func writeModelInfo(path string, meta lifecycle.Metadata) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func plotImportances(path string, imp map[string]float64) error {
	names := sortedByImportance(imp)
	values := make(plotter.Values, len(names))
	for i, name := range names {
		values[i] = imp[name]
	}

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.Y.Label.Text = "Mean decrease in impurity"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(40))
	if err != nil {
		return err
	}
	p.Add(bars)
	p.NominalX(names...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

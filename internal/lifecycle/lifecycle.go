// Package lifecycle owns the classifier that the service predicts with.
//
// The held state (forest, scaler and metadata) always comes from a single
// training run. Training and restoring build a complete new state without
// holding any lock and publish it with one pointer swap under the write
// lock; readers copy the pointer under the read lock and work on an
// immutable value from then on.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"irisapi/internal/artifact"
	"irisapi/internal/data"
	"irisapi/internal/evaluation"
	"irisapi/internal/features"
	"irisapi/internal/models"
	"irisapi/internal/preprocessing"
)

const testSize = 0.2

type Lifecycle struct {
	mu    sync.RWMutex
	state *trainedState

	// trainMu runs training passes one at a time and keeps a retrain's
	// Train+Persist pair from interleaving with another.
	trainMu sync.Mutex

	logger  *zap.Logger
	loader  func() (*data.Dataset, error)
	cache   *predictionCache
	workers int
	now     func() time.Time
	onTrain []func(Metadata)
}

type Option func(*Lifecycle)

// WithDataset replaces the bundled iris dataset as the training source.
func WithDataset(loader func() (*data.Dataset, error)) Option {
	return func(l *Lifecycle) { l.loader = loader }
}

// WithCacheSize enables an LRU prediction cache of n entries; n <= 0 disables it.
func WithCacheSize(n int) Option {
	return func(l *Lifecycle) { l.cache = newPredictionCache(n) }
}

// WithWorkers bounds how many trees are fitted concurrently.
func WithWorkers(n int) Option {
	return func(l *Lifecycle) { l.workers = n }
}

// OnTrain registers fn to run after every successful training pass, once
// the new model is being served.
func OnTrain(fn func(Metadata)) Option {
	return func(l *Lifecycle) { l.onTrain = append(l.onTrain, fn) }
}

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

func New(logger *zap.Logger, opts ...Option) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lifecycle{
		logger:  logger,
		loader:  data.LoadIris,
		workers: 4,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) current() *trainedState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) swap(s *trainedState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Ready reports whether a trained model is held.
func (l *Lifecycle) Ready() bool { return l.current() != nil }

func (l *Lifecycle) Metadata() (Metadata, error) {
	s := l.current()
	if s == nil {
		return Metadata{}, ErrNotTrained
	}
	return s.meta.clone(), nil
}

// Train fits a new scaler and forest on a stratified split of the dataset
// and replaces the held model with them. On error the held model is kept.
func (l *Lifecycle) Train(ctx context.Context, hp Hyperparameters) (Metadata, error) {
	l.trainMu.Lock()
	defer l.trainMu.Unlock()
	return l.train(ctx, hp)
}

func (l *Lifecycle) train(ctx context.Context, hp Hyperparameters) (Metadata, error) {
	if err := hp.Validate(); err != nil {
		return Metadata{}, err
	}
	start := l.now()
	ds, err := l.loader()
	if err != nil {
		return Metadata{}, fmt.Errorf("load dataset: %w", err)
	}
	trainIdx, testIdx, err := data.StratifiedSplit(ds.Y, testSize, hp.RandomState)
	if err != nil {
		return Metadata{}, fmt.Errorf("split dataset: %w", err)
	}
	Xtrain, ytrain := ds.Subset(trainIdx)
	Xtest, ytest := ds.Subset(testIdx)

	scaler := preprocessing.NewStandardScaler()
	XtrainScaled, err := scaler.FitTransform(Xtrain)
	if err != nil {
		return Metadata{}, fmt.Errorf("fit scaler: %w", err)
	}
	XtestScaled, err := scaler.Transform(Xtest)
	if err != nil {
		return Metadata{}, fmt.Errorf("scale test split: %w", err)
	}

	rf := models.NewRandomForest()
	rf.NEstimators = hp.NEstimators
	rf.MaxDepth = hp.depth()
	rf.NClasses = len(ds.ClassNames)
	rf.Seed = hp.RandomState
	rf.Workers = l.workers
	if err := rf.FitContext(ctx, XtrainScaled, ytrain); err != nil {
		return Metadata{}, fmt.Errorf("fit forest: %w", err)
	}

	metrics, err := evaluate(rf, XtrainScaled, ytrain, XtestScaled, ytest, ds.ClassNames)
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		ModelVersion:      uuid.NewString(),
		Algorithm:         rf.Name(),
		Hyperparameters:   hp,
		Metrics:           metrics,
		FeatureImportance: importanceByName(rf, ds.FeatureNames),
		TrainingDate:      l.now().UTC(),
		DatasetInfo: DatasetInfo{
			TotalSamples: ds.Len(),
			TrainSamples: len(trainIdx),
			TestSamples:  len(testIdx),
			Features:     append([]string(nil), ds.FeatureNames...),
			Classes:      append([]string(nil), ds.ClassNames...),
		},
	}
	meta = meta.clone()

	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	l.swap(&trainedState{
		forest:       rf,
		scaler:       scaler,
		meta:         meta,
		featureNames: meta.DatasetInfo.Features,
		classNames:   meta.DatasetInfo.Classes,
	})
	l.logger.Info("model trained",
		zap.String("model_version", meta.ModelVersion),
		zap.Int("n_estimators", hp.NEstimators),
		zap.Int("max_depth", hp.depth()),
		zap.Int64("random_state", hp.RandomState),
		zap.Float64("train_accuracy", meta.Metrics.TrainAccuracy),
		zap.Float64("test_accuracy", meta.Metrics.TestAccuracy),
		zap.Duration("took", l.now().Sub(start)),
	)
	for _, fn := range l.onTrain {
		fn(meta.clone())
	}
	return meta.clone(), nil
}

// evaluate scores a fitted model on the training split and the held-out split.
func evaluate(m models.Model, Xtrain [][]float64, ytrain []int, Xtest [][]float64, ytest []int, classNames []string) (Metrics, error) {
	trainPred := m.Predict(Xtrain)
	testPred := m.Predict(Xtest)
	report, err := evaluation.ClassificationReport(ytest, testPred, classNames)
	if err != nil {
		return Metrics{}, fmt.Errorf("evaluate: %w", err)
	}
	return Metrics{
		TrainAccuracy:        evaluation.Accuracy(ytrain, trainPred),
		TestAccuracy:         evaluation.Accuracy(ytest, testPred),
		ClassificationReport: report,
	}, nil
}

func importanceByName(m models.Model, names []string) map[string]float64 {
	importances := m.FeatureImportances()
	out := make(map[string]float64, len(names))
	for j, name := range names {
		out[name] = importances[j]
	}
	return out
}

// Predict classifies one sample with the held model.
func (l *Lifecycle) Predict(sample data.Sample) (Prediction, error) {
	s := l.current()
	if s == nil {
		return Prediction{}, ErrNotTrained
	}
	key := cacheKey{version: s.meta.ModelVersion, sample: sample}
	if p, ok := l.cache.get(key); ok {
		return p, nil
	}

	vec, _ := features.Vectorize(sample)
	scaled, err := s.scaler.TransformOne(vec)
	if err != nil {
		return Prediction{}, fmt.Errorf("scale sample: %w", err)
	}
	proba := s.forest.PredictProba([][]float64{scaled})[0]
	class := floats.MaxIdx(proba)

	p := Prediction{
		Class:         class,
		ClassName:     s.classNames[class],
		Probabilities: make(map[string]float64, len(s.classNames)),
		ModelVersion:  s.meta.ModelVersion,
	}
	for i, name := range s.classNames {
		p.Probabilities[name] = proba[i]
	}
	l.cache.add(key, p)
	return p, nil
}

// Persist writes the held model to path.
func (l *Lifecycle) Persist(path string) error {
	s := l.current()
	if s == nil {
		return ErrNotTrained
	}
	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	if err := artifact.WriteFile(path, snap); err != nil {
		return fmt.Errorf("persist model: %w", err)
	}
	l.logger.Info("model persisted", zap.String("path", path), zap.String("model_version", s.meta.ModelVersion))
	return nil
}

// Restore replaces the held model with the one stored at path. Restoring
// the version that is already held is a no-op.
func (l *Lifecycle) Restore(path string) error {
	snap, err := artifact.ReadFile(path)
	if err != nil {
		return err
	}
	if !slices.Equal(snap.FeatureNames, data.FeatureNames) || !slices.Equal(snap.ClassNames, data.ClassNames) {
		return fmt.Errorf("%w: %s: features %v / classes %v do not match the service", ErrCorruptArtifact, path, snap.FeatureNames, snap.ClassNames)
	}
	next, err := stateFromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	l.mu.Lock()
	if l.state != nil && l.state.meta.ModelVersion == next.meta.ModelVersion {
		l.mu.Unlock()
		return nil
	}
	l.state = next
	l.mu.Unlock()

	l.logger.Info("model restored", zap.String("path", path), zap.String("model_version", next.meta.ModelVersion))
	return nil
}

// Reload is Restore run under the training lock. A file change noticed
// while this process retrains is handled after the retrain has persisted,
// so it cannot roll the model back to the previous file.
func (l *Lifecycle) Reload(path string) error {
	l.trainMu.Lock()
	defer l.trainMu.Unlock()
	return l.Restore(path)
}

// Retrain trains with hp and persists the result to path. Concurrent
// retrains run one after the other so the file always matches the last
// model trained. If persisting fails the new model stays in memory and the
// error is returned together with its metadata.
func (l *Lifecycle) Retrain(ctx context.Context, hp Hyperparameters, path string) (Metadata, error) {
	l.trainMu.Lock()
	defer l.trainMu.Unlock()

	meta, err := l.train(ctx, hp)
	if err != nil {
		return Metadata{}, err
	}
	if err := l.Persist(path); err != nil {
		return meta, err
	}
	return meta, nil
}

// LoadOrTrain restores the model at path, falling back to training with hp
// and persisting when there is no usable artifact. trained reports which
// of the two happened.
func (l *Lifecycle) LoadOrTrain(ctx context.Context, path string, hp Hyperparameters) (trained bool, err error) {
	err = l.Restore(path)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrArtifactNotFound):
		l.logger.Info("no model artifact, training a new model", zap.String("path", path))
	case errors.Is(err, ErrCorruptArtifact):
		l.logger.Warn("model artifact unusable, training a new model", zap.String("path", path), zap.Error(err))
	default:
		return false, err
	}
	if _, err := l.Retrain(ctx, hp, path); err != nil {
		return true, err
	}
	return true, nil
}

package lifecycle

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"irisapi/internal/artifact"
	"irisapi/internal/evaluation"
	"irisapi/internal/models"
	"irisapi/internal/preprocessing"
)

// Hyperparameters of a training run. A nil MaxDepth grows trees until
// their leaves are pure.
type Hyperparameters struct {
	NEstimators int   `json:"n_estimators"`
	MaxDepth    *int  `json:"max_depth"`
	RandomState int64 `json:"random_state"`
}

// Upper bounds keep a single training run within memory and time limits.
const (
	MaxEstimators = 10000
	MaxTreeDepth  = 1000
)

func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{NEstimators: 100, RandomState: 42}
}

func (h Hyperparameters) Validate() error {
	if h.NEstimators < 1 {
		return fmt.Errorf("%w: n_estimators must be at least 1, got %d", ErrInvalidHyperparameter, h.NEstimators)
	}
	if h.NEstimators > MaxEstimators {
		return fmt.Errorf("%w: n_estimators must be at most %d, got %d", ErrInvalidHyperparameter, MaxEstimators, h.NEstimators)
	}
	if h.MaxDepth != nil && *h.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth must be at least 1 or unset, got %d", ErrInvalidHyperparameter, *h.MaxDepth)
	}
	if h.MaxDepth != nil && *h.MaxDepth > MaxTreeDepth {
		return fmt.Errorf("%w: max_depth must be at most %d, got %d", ErrInvalidHyperparameter, MaxTreeDepth, *h.MaxDepth)
	}
	return nil
}

func (h Hyperparameters) depth() int {
	if h.MaxDepth == nil {
		return 0
	}
	return *h.MaxDepth
}

type Metrics struct {
	TrainAccuracy        float64           `json:"train_accuracy"`
	TestAccuracy         float64           `json:"test_accuracy"`
	ClassificationReport evaluation.Report `json:"classification_report"`
}

type DatasetInfo struct {
	TotalSamples int      `json:"total_samples"`
	TrainSamples int      `json:"train_samples"`
	TestSamples  int      `json:"test_samples"`
	Features     []string `json:"features"`
	Classes      []string `json:"classes"`
}

// Metadata describes how, when and how well the held model was trained.
type Metadata struct {
	ModelVersion      string             `json:"model_version"`
	Algorithm         string             `json:"algorithm"`
	Hyperparameters   Hyperparameters    `json:"hyperparameters"`
	Metrics           Metrics            `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	TrainingDate      time.Time          `json:"training_date"`
	DatasetInfo       DatasetInfo        `json:"dataset_info"`
}

// clone returns a deep copy so callers cannot reach into held state.
func (m Metadata) clone() Metadata {
	out := m
	if m.Hyperparameters.MaxDepth != nil {
		d := *m.Hyperparameters.MaxDepth
		out.Hyperparameters.MaxDepth = &d
	}
	out.Metrics.ClassificationReport.Classes = make(map[string]evaluation.ClassScores, len(m.Metrics.ClassificationReport.Classes))
	for k, v := range m.Metrics.ClassificationReport.Classes {
		out.Metrics.ClassificationReport.Classes[k] = v
	}
	out.FeatureImportance = make(map[string]float64, len(m.FeatureImportance))
	for k, v := range m.FeatureImportance {
		out.FeatureImportance[k] = v
	}
	out.DatasetInfo.Features = append([]string(nil), m.DatasetInfo.Features...)
	out.DatasetInfo.Classes = append([]string(nil), m.DatasetInfo.Classes...)
	return out
}

type Prediction struct {
	Class         int                `json:"prediction"`
	ClassName     string             `json:"class_name"`
	Probabilities map[string]float64 `json:"probabilities"`
	ModelVersion  string             `json:"model_version"`
}

func (p Prediction) clone() Prediction {
	out := p
	out.Probabilities = make(map[string]float64, len(p.Probabilities))
	for k, v := range p.Probabilities {
		out.Probabilities[k] = v
	}
	return out
}

// trainedState is never modified after it is published; replacing the
// model means swapping the whole pointer.
type trainedState struct {
	forest       *models.RandomForest
	scaler       *preprocessing.StandardScaler
	meta         Metadata
	featureNames []string
	classNames   []string
}

func (s *trainedState) snapshot() (*artifact.Snapshot, error) {
	meta, err := json.Marshal(s.meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	trees := make([]artifact.TreeRecord, len(s.forest.Trees))
	for t, dt := range s.forest.Trees {
		nodes := make([]artifact.NodeRecord, len(dt.Nodes))
		for i, n := range dt.Nodes {
			nodes[i] = artifact.NodeRecord{
				Feature:   n.Feature,
				Threshold: n.Threshold,
				Left:      n.Left,
				Right:     n.Right,
				Leaf:      n.IsLeaf,
				Proba:     append([]float64(nil), n.Proba...),
			}
		}
		trees[t] = artifact.TreeRecord{Nodes: nodes}
	}
	return &artifact.Snapshot{
		FeatureNames: append([]string(nil), s.featureNames...),
		ClassNames:   append([]string(nil), s.classNames...),
		Scaler: artifact.ScalerRecord{
			Mean:  append([]float64(nil), s.scaler.Mean...),
			Scale: append([]float64(nil), s.scaler.Scale...),
		},
		Forest: artifact.ForestRecord{
			NEstimators: s.forest.NEstimators,
			MaxDepth:    s.forest.MaxDepth,
			Seed:        s.forest.Seed,
			Importances: append([]float64(nil), s.forest.Importances...),
			Trees:       trees,
		},
		Metadata: meta,
	}, nil
}

// stateFromSnapshot rebuilds a servable state from a validated snapshot.
func stateFromSnapshot(snap *artifact.Snapshot) (*trainedState, error) {
	var meta Metadata
	if err := json.Unmarshal(snap.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrCorruptArtifact, err)
	}
	if meta.ModelVersion == "" {
		return nil, fmt.Errorf("%w: metadata has no model version", ErrCorruptArtifact)
	}
	forest := models.NewRandomForest()
	forest.NEstimators = snap.Forest.NEstimators
	forest.MaxDepth = snap.Forest.MaxDepth
	forest.Seed = snap.Forest.Seed
	forest.NClasses = len(snap.ClassNames)
	forest.Importances = append([]float64(nil), snap.Forest.Importances...)
	forest.Trees = make([]*models.DecisionTree, len(snap.Forest.Trees))
	for t, tr := range snap.Forest.Trees {
		dt := models.NewDecisionTree()
		dt.MaxDepth = forest.MaxDepth
		dt.NClasses = forest.NClasses
		dt.Nodes = make([]models.Node, len(tr.Nodes))
		for i, n := range tr.Nodes {
			dt.Nodes[i] = models.Node{
				Feature:   n.Feature,
				Threshold: n.Threshold,
				Left:      n.Left,
				Right:     n.Right,
				IsLeaf:    n.Leaf,
				Proba:     n.Proba,
			}
		}
		forest.Trees[t] = dt
	}
	return &trainedState{
		forest: forest,
		scaler: &preprocessing.StandardScaler{
			Mean:  snap.Scaler.Mean,
			Scale: snap.Scaler.Scale,
		},
		meta:         meta,
		featureNames: snap.FeatureNames,
		classNames:   snap.ClassNames,
	}, nil
}

package api

//go:generate mockgen -source=deps.go -destination=mock_deps_test.go -package=api

import (
	"context"

	"irisapi/internal/data"
	"irisapi/internal/history"
	"irisapi/internal/lifecycle"
)

// Classifier is the part of the model lifecycle the handlers use.
type Classifier interface {
	Metadata() (lifecycle.Metadata, error)
	Predict(sample data.Sample) (lifecycle.Prediction, error)
	Retrain(ctx context.Context, hp lifecycle.Hyperparameters, path string) (lifecycle.Metadata, error)
}

type HistoryStore interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
}

package lifecycle

import (
	"errors"

	"irisapi/internal/artifact"
)

var (
	// ErrNotTrained is returned by operations that need a trained model
	// before one has been trained or restored.
	ErrNotTrained = errors.New("model not trained")

	ErrInvalidHyperparameter = errors.New("invalid hyperparameter")

	ErrArtifactNotFound = artifact.ErrNotFound
	ErrCorruptArtifact  = artifact.ErrCorrupt
)

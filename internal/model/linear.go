package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/hyperjump/soilsense/internal/models"
)

// LinearArtifact is the JSON form of a linear regressor:
// score = intercept + Σ weights[i]·features[i].
type LinearArtifact struct {
	Element   string    `json:"element,omitempty"`
	Intercept float64   `json:"intercept"`
	Weights   []float64 `json:"weights"`
}

// LinearModel scores feature vectors with fixed weights. It is immutable.
type LinearModel struct {
	intercept float64
	weights   []float64
}

// NewLinearModel validates and copies the artifact's coefficients.
func NewLinearModel(a LinearArtifact) (*LinearModel, error) {
	if len(a.Weights) == 0 {
		return nil, fmt.Errorf("linear model has no weights")
	}
	if math.IsNaN(a.Intercept) || math.IsInf(a.Intercept, 0) {
		return nil, fmt.Errorf("linear model intercept is not finite")
	}
	for i, w := range a.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("linear model weight %d is not finite", i)
		}
	}
	return &LinearModel{
		intercept: a.Intercept,
		weights:   append([]float64(nil), a.Weights...),
	}, nil
}

// Predict returns the linear score.
func (m *LinearModel) Predict(_ context.Context, features models.FeatureVector) (float64, error) {
	if len(features) != len(m.weights) {
		return 0, fmt.Errorf("feature length %d does not match %d weights", len(features), len(m.weights))
	}
	score := m.intercept
	for i, w := range m.weights {
		score += w * features[i]
	}
	return score, nil
}

// Close is a no-op for LinearModel.
func (m *LinearModel) Close() error {
	return nil
}

// LinearLoader reads LinearArtifact JSON files.
type LinearLoader struct{}

// Load parses the artifact at path.
func (LinearLoader) Load(_ context.Context, path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a LinearArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	return NewLinearModel(a)
}

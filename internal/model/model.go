// Package model adapts concrete regression artifacts to a single scoring interface.
package model

import (
	"context"

	"github.com/hyperjump/soilsense/internal/models"
)

// Model scores one feature vector. Implementations must be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, features models.FeatureVector) (float64, error)
	Close() error
}

// Loader opens a model artifact from disk.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, path string) (Model, error) {
	return f(ctx, path)
}

// Func adapts a plain function to Model. Close is a no-op.
type Func func(ctx context.Context, features models.FeatureVector) (float64, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, features models.FeatureVector) (float64, error) {
	return f(ctx, features)
}

// Close is a no-op for Func.
func (f Func) Close() error {
	return nil
}

// Constant returns a model that always scores v.
func Constant(v float64) Model {
	return Func(func(context.Context, models.FeatureVector) (float64, error) {
		return v, nil
	})
}

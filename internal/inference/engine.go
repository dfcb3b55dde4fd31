// Package inference runs one reading through the preprocessing pipeline and every
// registered nutrient model.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hyperjump/soilsense/internal/models"
	"github.com/hyperjump/soilsense/internal/registry"
	"github.com/hyperjump/soilsense/internal/spectral"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source supplies models by name. *registry.Registry implements it.
type Source interface {
	Names() []string
	Lookup(ctx context.Context, name string) (*registry.RegisteredModel, error)
}

// Engine produces prediction batches. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	pre         *spectral.Preprocessor
	evalTimeout time.Duration
	maxParallel int
	logger      *zap.Logger
}

// NewEngine returns an engine using pre, or the default preprocessor when pre is nil.
func NewEngine(pre *spectral.Preprocessor, opts ...Option) (*Engine, error) {
	if pre == nil {
		var err error
		if pre, err = spectral.NewPreprocessor(); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		pre:         pre,
		evalTimeout: defaultEvalTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Predict preprocesses spectrum and scores it with every model in src.
//
// A reading of the wrong length, or one outside the absorbance domain, fails with
// ErrInvalidInput before any model is touched. A model that cannot be loaded, fails,
// times out, or returns a non-finite score is reported in the batch's Failures and
// does not affect the others. Predict returns an error if ctx ends before all models
// finish.
func (e *Engine) Predict(ctx context.Context, src Source, spectrum models.Spectrum) (*models.PredictionBatch, error) {
	start := time.Now()
	if len(spectrum) != models.SpectrumLength {
		return nil, fmt.Errorf("%w: reading has %d values, want %d", ErrInvalidInput, len(spectrum), models.SpectrumLength)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features, err := e.pre.Transform(spectrum)
	if err != nil {
		if errors.Is(err, spectral.ErrDomain) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("preprocess reading: %w", err)
	}

	names := src.Names()
	outcomes := make([]outcome, len(names))
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = e.evaluate(ctx, src, name, features)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("inference cancelled: %w", err)
	}

	batch := &models.PredictionBatch{
		Results:  make([]models.PredictionResult, 0, len(names)),
		Failures: []models.PredictionFailure{},
	}
	for i, name := range names {
		o := outcomes[i]
		if o.err != nil {
			e.logger.Warn("model skipped",
				zap.String("element", name),
				zap.String("kind", string(o.kind)),
				zap.Error(o.err))
			batch.Failures = append(batch.Failures, models.PredictionFailure{
				ElementName: name,
				Kind:        o.kind,
				Reason:      o.err.Error(),
			})
			continue
		}
		batch.Results = append(batch.Results, models.PredictionResult{ElementName: name, ElementValue: o.value})
	}
	sort.Slice(batch.Results, func(i, j int) bool {
		return batch.Results[i].ElementName < batch.Results[j].ElementName
	})
	sort.Slice(batch.Failures, func(i, j int) bool {
		return batch.Failures[i].ElementName < batch.Failures[j].ElementName
	})
	batch.ElapsedMs = time.Since(start).Milliseconds()
	e.logger.Debug("inference complete",
		zap.Int("results", len(batch.Results)),
		zap.Int("failures", len(batch.Failures)),
		zap.Int64("elapsed_ms", batch.ElapsedMs))
	return batch, nil
}

type outcome struct {
	value float64
	kind  models.FailureKind
	err   error
}

func (e *Engine) evaluate(ctx context.Context, src Source, name string, features []float64) outcome {
	rm, err := src.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return outcome{kind: models.FailureTimeout, err: err}
		}
		return outcome{kind: models.FailureLoad, err: err}
	}

	evalCtx := ctx
	if e.evalTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.evalTimeout)
		defer cancel()
	}

	// Each model gets its own copy; a model that writes to its input cannot affect
	// the others.
	input := append(models.FeatureVector(nil), features...)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{kind: models.FailureEvaluation, err: fmt.Errorf("%w: panic: %v", ErrModelEvaluation, p)}
			}
		}()
		v, err := rm.Model.Predict(evalCtx, input)
		switch {
		case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			done <- outcome{kind: models.FailureTimeout, err: fmt.Errorf("%w: %w", ErrTimeout, err)}
		case err != nil:
			done <- outcome{kind: models.FailureEvaluation, err: fmt.Errorf("%w: %w", ErrModelEvaluation, err)}
		case math.IsNaN(v) || math.IsInf(v, 0):
			done <- outcome{kind: models.FailureEvaluation, err: fmt.Errorf("%w: non-finite score %v", ErrModelEvaluation, v)}
		default:
			done <- outcome{value: v}
		}
	}()

	select {
	case o := <-done:
		return o
	case <-evalCtx.Done():
		if ctx.Err() != nil {
			return outcome{kind: models.FailureEvaluation, err: ctx.Err()}
		}
		return outcome{kind: models.FailureTimeout, err: fmt.Errorf("%w after %s", ErrTimeout, e.evalTimeout)}
	}
}

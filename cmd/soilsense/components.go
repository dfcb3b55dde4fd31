package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/soilsense/internal/config"
	"github.com/hyperjump/soilsense/internal/inference"
	"github.com/hyperjump/soilsense/internal/model"
	"github.com/hyperjump/soilsense/internal/models"
	"github.com/hyperjump/soilsense/internal/registry"
	"github.com/hyperjump/soilsense/internal/spectral"
	"github.com/hyperjump/soilsense/internal/storage"
	"go.uber.org/zap"
)

// Components holds the long-lived pieces a command needs.
type Components struct {
	Registry *registry.Registry
	Engine   *inference.Engine
	// History is nil when reading history is disabled.
	History storage.Storage
}

// Close releases every model and the history database.
func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.History != nil {
		_ = c.History.Close()
	}
}

func registryOptions(cfg *config.Config, logger *zap.Logger) []registry.Option {
	onnx := model.NewONNXLoader(model.ONNXOptions{
		SharedLibraryPath: cfg.Models.ONNX.SharedLibraryPath,
		InputName:         cfg.Models.ONNX.InputName,
		OutputName:        cfg.Models.ONNX.OutputName,
		FeatureLength:     models.SpectrumLength,
	})
	return []registry.Option{
		registry.WithLogger(logger),
		registry.WithLoadTimeout(cfg.Models.LoadTimeout),
		registry.WithLoader(".onnx", onnx),
		registry.WithExtensions(cfg.Models.Extensions...),
	}
}

func newEngine(cfg *config.Config, logger *zap.Logger) (*inference.Engine, error) {
	var preOpts []spectral.Option
	if cfg.Preprocess.LegacyWindowing {
		preOpts = append(preOpts, spectral.WithLegacyWindowing())
	}
	pre, err := spectral.NewPreprocessor(preOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build preprocessor: %w", err)
	}
	return inference.NewEngine(pre,
		inference.WithLogger(logger),
		inference.WithEvalTimeout(cfg.Inference.EvalTimeout),
		inference.WithMaxParallel(cfg.Inference.MaxParallel),
	)
}

// initializeComponents discovers the model directory, builds the engine and, when
// enabled, opens the history database. Models load lazily on first use.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	reg, err := registry.Load(ctx, cfg.Models.Directory, registryOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model registry: %w", err)
	}
	c := &Components{Registry: reg}

	c.Engine, err = newEngine(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	if cfg.Preprocess.LegacyWindowing {
		logger.Warn("legacy windowing enabled; only use with models calibrated on it")
	}

	if cfg.History.Enabled {
		store, err := storage.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize history: %w", err)
		}
		c.History = store
	}

	logger.Info("components initialized",
		zap.String("models_dir", reg.Dir()),
		zap.Strings("models", reg.Names()),
		zap.Bool("history", c.History != nil))
	return c, nil
}

// openHistory opens only the history database.
func openHistory(cfg *config.Config) (storage.Storage, error) {
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("history is not enabled in config")
	}
	store, err := storage.Open(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}
	return store, nil
}

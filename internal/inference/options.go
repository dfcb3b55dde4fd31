package inference

import (
	"time"

	"go.uber.org/zap"
)

const defaultEvalTimeout = 10 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for per-model failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEvalTimeout bounds each model evaluation. Zero or negative disables the bound.
func WithEvalTimeout(d time.Duration) Option {
	return func(e *Engine) { e.evalTimeout = d }
}

// WithMaxParallel bounds how many models are evaluated at once. Zero or negative
// evaluates every model concurrently.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

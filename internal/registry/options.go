package registry

import (
	"strings"
	"time"

	"github.com/hyperjump/soilsense/internal/model"
	"go.uber.org/zap"
)

const defaultLoadTimeout = 30 * time.Second

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for load and refresh events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithLoadTimeout bounds a single artifact load. Zero or negative keeps the default.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithLoader registers loader for artifacts with extension ext (".onnx", "json").
// Replacing an existing extension keeps its priority; new extensions rank last.
func WithLoader(ext string, loader model.Loader) Option {
	return func(r *Registry) {
		ext = normalizeExt(ext)
		for i := range r.loaders {
			if r.loaders[i].ext == ext {
				r.loaders[i].loader = loader
				return
			}
		}
		r.loaders = append(r.loaders, extLoader{ext: ext, loader: loader})
	}
}

// WithExtensions restricts scanning to the given extensions, in priority order.
// Extensions without a loader are ignored.
func WithExtensions(exts ...string) Option {
	return func(r *Registry) {
		if len(exts) == 0 {
			return
		}
		var kept []extLoader
		for _, e := range exts {
			e = normalizeExt(e)
			for _, l := range r.loaders {
				if l.ext == e {
					kept = append(kept, l)
				}
			}
		}
		r.loaders = kept
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

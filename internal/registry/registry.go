// Package registry discovers nutrient models in a directory and loads each one lazily,
// at most once, on first use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/soilsense/internal/fileid"
	"github.com/hyperjump/soilsense/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type extLoader struct {
	ext    string
	loader model.Loader
}

// artifact is one discovered (or pinned) model. Artifacts are replaced, never mutated,
// so a pointer identifies one version.
type artifact struct {
	name   string
	path   string
	ext    string
	loader model.Loader
	fp     fileid.Fingerprint
	pinned model.Model
}

// RegisteredModel is a loaded model bound to its nutrient name.
type RegisteredModel struct {
	Name     string
	Model    model.Model
	Artifact string
	LoadedAt time.Time

	source *artifact
}

// ModelInfo describes one known artifact and its load state.
type ModelInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path,omitempty"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Loaded      bool      `json:"loaded"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// ReloadSummary lists the names affected by a Reload.
type ReloadSummary struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether the reload found no differences.
func (s ReloadSummary) Empty() bool {
	return len(s.Added) == 0 && len(s.Removed) == 0 && len(s.Changed) == 0
}

// Registry maps nutrient names to models. It is safe for concurrent use.
type Registry struct {
	dir         string
	loaders     []extLoader
	loadTimeout time.Duration
	logger      *zap.Logger

	mu        sync.RWMutex
	artifacts map[string]*artifact
	loaded    map[string]*RegisteredModel
	lastErr   map[string]error
	retired   []model.Model
	closed    bool

	group singleflight.Group
}

// New returns an empty registry with the default loaders: ONNX first, then linear JSON.
func New(opts ...Option) *Registry {
	r := &Registry{
		loaders: []extLoader{
			{ext: ".onnx", loader: model.NewONNXLoader(model.ONNXOptions{})},
			{ext: ".json", loader: model.LinearLoader{}},
		},
		loadTimeout: defaultLoadTimeout,
		logger:      zap.NewNop(),
		artifacts:   make(map[string]*artifact),
		loaded:      make(map[string]*RegisteredModel),
		lastErr:     make(map[string]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load scans dir for model artifacts. No artifact is opened until it is looked up.
func Load(ctx context.Context, dir string, opts ...Option) (*Registry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve model directory: %w", err)
	}
	r := New(opts...)
	r.dir = abs
	found, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	r.artifacts = found
	r.logger.Info("model directory scanned", zap.String("dir", abs), zap.Int("models", len(found)))
	return r, nil
}

// Dir returns the scanned directory, or "" for a registry built with New.
func (r *Registry) Dir() string {
	return r.dir
}

// Register pins an in-memory model under name, replacing any artifact of that name.
// Pinned models survive Reload.
func (r *Registry) Register(name string, m model.Model) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if m == nil {
		return fmt.Errorf("model %q is nil", name)
	}
	a := &artifact{name: name, ext: "memory", pinned: m}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.evictLocked(name)
	r.artifacts[name] = a
	r.loaded[name] = &RegisteredModel{Name: name, Model: m, LoadedAt: time.Now(), source: a}
	return nil
}

// Names returns the known model names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.artifacts))
	for name := range r.artifacts {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Lookup returns the model for name, loading it on first use. Concurrent lookups of
// an unloaded name share one load. The load is bounded by the load timeout and keeps
// running when ctx ends; only the wait is abandoned.
func (r *Registry) Lookup(ctx context.Context, name string) (*RegisteredModel, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	if rm, ok := r.loaded[name]; ok {
		r.mu.RUnlock()
		return rm, nil
	}
	a, ok := r.artifacts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	key := name + "\x00" + a.fp.SHA256
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.load(context.WithoutCancel(ctx), a)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RegisteredModel), nil
	}
}

// AllModels looks up every known model concurrently. Models that fail to load are
// returned as LoadErrors; both slices are ordered by name. A non-nil error means ctx
// ended first.
func (r *Registry) AllModels(ctx context.Context) ([]*RegisteredModel, []*LoadError, error) {
	names := r.Names()
	got := make([]*RegisteredModel, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			got[i], errs[i] = r.Lookup(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var loaded []*RegisteredModel
	var failed []*LoadError
	for i := range names {
		var le *LoadError
		switch {
		case errs[i] == nil:
			loaded = append(loaded, got[i])
		case errors.As(errs[i], &le):
			failed = append(failed, le)
		case errors.Is(errs[i], ErrNotFound):
			// removed by a concurrent Reload
		default:
			failed = append(failed, &LoadError{Name: names[i], Err: errs[i]})
		}
	}
	return loaded, failed, nil
}

// load opens the artifact's model once. A model already loaded for the same artifact
// is returned as is, which keeps loads at most once even when singleflight has
// forgotten the key.
func (r *Registry) load(ctx context.Context, a *artifact) (*RegisteredModel, error) {
	r.mu.RLock()
	if rm, ok := r.loaded[a.name]; ok && rm.source == a {
		r.mu.RUnlock()
		return rm, nil
	}
	r.mu.RUnlock()

	start := time.Now()
	m, err := r.open(ctx, a)
	if err != nil {
		le := &LoadError{Name: a.name, Path: a.path, Err: err}
		r.mu.Lock()
		r.lastErr[a.name] = le
		r.mu.Unlock()
		r.logger.Warn("model load failed", zap.String("element", a.name), zap.String("path", a.path), zap.Error(err))
		return nil, le
	}

	rm := &RegisteredModel{Name: a.name, Model: m, Artifact: a.path, LoadedAt: time.Now(), source: a}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = m.Close()
		return nil, ErrClosed
	}
	if r.artifacts[a.name] != a {
		// Replaced by Reload while loading; serve this caller, close on Close.
		r.retired = append(r.retired, m)
		return rm, nil
	}
	r.loaded[a.name] = rm
	delete(r.lastErr, a.name)
	r.logger.Debug("model loaded",
		zap.String("element", a.name),
		zap.String("path", a.path),
		zap.String("fingerprint", a.fp.Short()),
		zap.Duration("took", time.Since(start)))
	return rm, nil
}

// open runs the loader under the load timeout. A loader that ignores its context is
// abandoned at the deadline and its model closed when it eventually returns.
func (r *Registry) open(ctx context.Context, a *artifact) (model.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()

	type result struct {
		m   model.Model
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := a.loader.Load(ctx, a.path)
		done <- result{m, err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.m == nil {
			return nil, fmt.Errorf("loader returned no model")
		}
		return res.m, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.m != nil {
				_ = res.m.Close()
			}
		}()
		return nil, fmt.Errorf("load timed out after %s: %w", r.loadTimeout, ctx.Err())
	}
}

// Reload rescans the directory. New artifacts become visible, removed ones disappear,
// and artifacts whose fingerprint changed are evicted so the next lookup loads the new
// version. Evicted models stay open until Close, as callers may still hold them.
func (r *Registry) Reload(ctx context.Context) (ReloadSummary, error) {
	var summary ReloadSummary
	if r.dir == "" {
		return summary, nil
	}
	found, err := r.scan(ctx)
	if err != nil {
		return summary, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return summary, ErrClosed
	}
	for name, old := range r.artifacts {
		if old.pinned != nil {
			continue
		}
		cur, ok := found[name]
		switch {
		case !ok:
			r.evictLocked(name)
			delete(r.artifacts, name)
			delete(r.lastErr, name)
			summary.Removed = append(summary.Removed, name)
		case cur.path != old.path || !cur.fp.Equal(old.fp):
			r.evictLocked(name)
			delete(r.lastErr, name)
			r.artifacts[name] = cur
			summary.Changed = append(summary.Changed, name)
		}
	}
	for name, cur := range found {
		if _, ok := r.artifacts[name]; !ok {
			r.artifacts[name] = cur
			summary.Added = append(summary.Added, name)
		}
	}
	sort.Strings(summary.Added)
	sort.Strings(summary.Removed)
	sort.Strings(summary.Changed)
	if !summary.Empty() {
		r.logger.Info("model directory reloaded",
			zap.Strings("added", summary.Added),
			zap.Strings("removed", summary.Removed),
			zap.Strings("changed", summary.Changed))
	}
	return summary, nil
}

// Invalidate evicts the loaded model for name so the next lookup loads it again.
// Pinned models are not affected. It reports whether a model was evicted.
func (r *Registry) Invalidate(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.artifacts[name]; !ok || a.pinned != nil {
		return false
	}
	if _, ok := r.loaded[name]; !ok {
		return false
	}
	r.evictLocked(name)
	return true
}

func (r *Registry) evictLocked(name string) {
	if rm, ok := r.loaded[name]; ok {
		r.retired = append(r.retired, rm.Model)
		delete(r.loaded, name)
	}
}

// Info describes every known artifact, ordered by name.
func (r *Registry) Info() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ModelInfo, 0, len(r.artifacts))
	for name, a := range r.artifacts {
		info := ModelInfo{
			Name:        name,
			Path:        a.path,
			Format:      strings.TrimPrefix(a.ext, "."),
			SizeBytes:   a.fp.Size,
			Fingerprint: a.fp.Short(),
		}
		if rm, ok := r.loaded[name]; ok {
			info.Loaded = true
			info.LoadedAt = rm.LoadedAt
		}
		if err, ok := r.lastErr[name]; ok {
			info.LastError = err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close closes every loaded and evicted model. Later lookups return ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	toClose := r.retired
	r.retired = nil
	for _, rm := range r.loaded {
		toClose = append(toClose, rm.Model)
	}
	r.loaded = make(map[string]*RegisteredModel)
	r.mu.Unlock()

	var errs []error
	for _, m := range toClose {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// scan lists loadable artifacts in the directory. When two files share a stem the
// one whose extension ranks first wins.
func (r *Registry) scan(ctx context.Context) (map[string]*artifact, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read model directory %s: %w", r.dir, err)
	}
	rank := make(map[string]int, len(r.loaders))
	for i, l := range r.loaders {
		rank[l.ext] = i
	}

	found := make(map[string]*artifact)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		pri, ok := rank[ext]
		if !ok {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		name := fileid.ElementName(path)
		if prev, ok := found[name]; ok {
			if rank[prev.ext] <= pri {
				r.logger.Warn("duplicate model artifact skipped", zap.String("element", name), zap.String("path", path), zap.String("kept", prev.path))
				continue
			}
			r.logger.Warn("duplicate model artifact skipped", zap.String("element", name), zap.String("path", prev.path), zap.String("kept", path))
		}
		fp, err := fileid.Stat(path)
		if err != nil {
			r.logger.Warn("model artifact unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		found[name] = &artifact{
			name:   name,
			path:   path,
			ext:    ext,
			loader: r.loaders[pri].loader,
			fp:     fp,
		}
	}
	return found, nil
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/soilsense/internal/model"
	"github.com/hyperjump/soilsense/internal/models"
	"go.uber.org/zap"
)

type closeCounter struct {
	model.Model
	closed *int32
}

func (c closeCounter) Close() error {
	atomic.AddInt32(c.closed, 1)
	return nil
}

// countingLoader loads linear artifacts and counts calls.
func countingLoader(calls *int32) model.Loader {
	return model.LoaderFunc(func(ctx context.Context, path string) (model.Model, error) {
		atomic.AddInt32(calls, 1)
		time.Sleep(10 * time.Millisecond)
		return model.LinearLoader{}.Load(ctx, path)
	})
}

func writeArtifact(t *testing.T, dir, name string, intercept float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := fmt.Sprintf(`{"intercept": %g, "weights": [1]}`, intercept)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func predict(t *testing.T, rm *RegisteredModel) float64 {
	t.Helper()
	v, err := rm.Model.Predict(context.Background(), models.FeatureVector{0})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLoad_ScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "P.json", 1)
	writeArtifact(t, dir, "N.json", 2)
	writeArtifact(t, dir, "K.onnx", 3)
	writeArtifact(t, dir, ".hidden.json", 4)
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("notes"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.json"), 0755); err != nil {
		t.Fatal(err)
	}

	r, err := Load(context.Background(), dir, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	want := []string{"K", "N", "P"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	for _, info := range r.Info() {
		if info.Loaded {
			t.Errorf("%s loaded before first lookup", info.Name)
		}
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoad_WithExtensions(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	writeArtifact(t, dir, "K.onnx", 1)
	r, err := Load(context.Background(), dir, WithExtensions("json"))
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"N"}) {
		t.Errorf("Names() = %v, want [N]", got)
	}
}

func TestLoad_DuplicateStemPrefersRankedExtension(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	writeArtifact(t, dir, "N.onnx", 2)
	var onnxCalls, jsonCalls int32
	r, err := Load(context.Background(), dir,
		WithLoader(".onnx", countingLoader(&onnxCalls)),
		WithLoader(".json", countingLoader(&jsonCalls)))
	if err != nil {
		t.Fatal(err)
	}
	rm, err := r.Lookup(context.Background(), "N")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(rm.Artifact) != ".onnx" || onnxCalls != 1 || jsonCalls != 0 {
		t.Errorf("artifact %s, onnx calls %d, json calls %d", rm.Artifact, onnxCalls, jsonCalls)
	}
}

func TestLookup_LoadsAtMostOnceConcurrently(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	var calls int32
	r, err := Load(context.Background(), dir, WithLoader(".json", countingLoader(&calls)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	const callers = 32
	got := make([]*RegisteredModel, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rm, err := r.Lookup(context.Background(), "N")
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = rm
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}
	for i := 1; i < callers; i++ {
		if got[i] != got[0] {
			t.Fatal("callers received different model instances")
		}
	}
	if _, err := r.Lookup(context.Background(), "N"); err != nil || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("cached lookup: err=%v calls=%d", err, calls)
	}
}

func TestLookup_NotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup(context.Background(), "Zn")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLookup_FailureIsScopedAndRetried(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	writeArtifact(t, dir, "K.json", 1)
	var calls int32
	flaky := model.LoaderFunc(func(ctx context.Context, path string) (model.Model, error) {
		if filepath.Base(path) == "K.json" && atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("corrupt artifact")
		}
		return model.LinearLoader{}.Load(ctx, path)
	})
	r, err := Load(context.Background(), dir, WithLoader(".json", flaky))
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Lookup(context.Background(), "K")
	var le *LoadError
	if !errors.Is(err, ErrModelLoad) || !errors.As(err, &le) || le.Name != "K" {
		t.Fatalf("err = %v, want LoadError for K", err)
	}
	if _, err := r.Lookup(context.Background(), "N"); err != nil {
		t.Errorf("N should load despite K failing: %v", err)
	}
	var kInfo ModelInfo
	for _, info := range r.Info() {
		if info.Name == "K" {
			kInfo = info
		}
	}
	if kInfo.Loaded || kInfo.LastError == "" {
		t.Errorf("K info after failure: %+v", kInfo)
	}

	if _, err := r.Lookup(context.Background(), "K"); err != nil {
		t.Errorf("failed load should be retried: %v", err)
	}
	if calls != 2 {
		t.Errorf("K loader called %d times, want 2", calls)
	}
}

func TestLookup_LoadTimeout(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	slow := model.LoaderFunc(func(ctx context.Context, path string) (model.Model, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r, err := Load(context.Background(), dir, WithLoader(".json", slow), WithLoadTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Lookup(context.Background(), "N")
	if !errors.Is(err, ErrModelLoad) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want load timeout", err)
	}
}

func TestLookup_CallerCancelDoesNotAbortLoad(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	release := make(chan struct{})
	var calls int32
	gated := model.LoaderFunc(func(ctx context.Context, path string) (model.Model, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return model.LinearLoader{}.Load(ctx, path)
	})
	r, err := Load(context.Background(), dir, WithLoader(".json", gated))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Lookup(ctx, "N"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want caller deadline", err)
	}
	close(release)

	rm, err := r.Lookup(context.Background(), "N")
	if err != nil {
		t.Fatal(err)
	}
	if predict(t, rm) != 1 {
		t.Error("unexpected model")
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	writeArtifact(t, dir, "K.json", 1)
	var calls int32
	r, err := Load(context.Background(), dir, WithLoader(".json", countingLoader(&calls)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rm, err := r.Lookup(context.Background(), "N")
	if err != nil {
		t.Fatal(err)
	}
	if predict(t, rm) != 1 {
		t.Fatal("unexpected initial model")
	}

	summary, err := r.Reload(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Empty() {
		t.Errorf("reload without changes: %+v", summary)
	}

	writeArtifact(t, dir, "N.json", 5)
	writeArtifact(t, dir, "P.json", 1)
	if err := os.Remove(filepath.Join(dir, "K.json")); err != nil {
		t.Fatal(err)
	}
	summary, err = r.Reload(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := ReloadSummary{Added: []string{"P"}, Removed: []string{"K"}, Changed: []string{"N"}}
	if !reflect.DeepEqual(summary, want) {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"N", "P"}) {
		t.Errorf("Names() = %v", got)
	}

	rm, err = r.Lookup(context.Background(), "N")
	if err != nil {
		t.Fatal(err)
	}
	if predict(t, rm) != 5 {
		t.Error("changed artifact was not reloaded")
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2", calls)
	}
	if _, err := r.Lookup(context.Background(), "K"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed model lookup err = %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "N.json", 1)
	var calls int32
	r, err := Load(context.Background(), dir, WithLoader(".json", countingLoader(&calls)))
	if err != nil {
		t.Fatal(err)
	}
	if r.Invalidate("N") {
		t.Error("nothing loaded yet; Invalidate should report false")
	}
	if _, err := r.Lookup(context.Background(), "N"); err != nil {
		t.Fatal(err)
	}
	if !r.Invalidate("N") {
		t.Error("Invalidate should evict the loaded model")
	}
	if _, err := r.Lookup(context.Background(), "N"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2", calls)
	}
}

func TestRegister(t *testing.T) {
	r := New()
	if err := r.Register("P", model.Constant(2)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("N", model.Constant(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("", model.Constant(1)); err == nil {
		t.Error("expected error for empty name")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"N", "P"}) {
		t.Errorf("Names() = %v", got)
	}
	rm, err := r.Lookup(context.Background(), "P")
	if err != nil {
		t.Fatal(err)
	}
	if predict(t, rm) != 2 {
		t.Error("unexpected pinned model")
	}
	if r.Invalidate("P") {
		t.Error("pinned models cannot be invalidated")
	}
	if summary, err := r.Reload(context.Background()); err != nil || !summary.Empty() {
		t.Errorf("Reload on in-memory registry: %+v, %v", summary, err)
	}
}

func TestAllModels(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "P.json", 1)
	writeArtifact(t, dir, "N.json", 1)
	if err := os.WriteFile(filepath.Join(dir, "K.json"), []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	r, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, failed, err := r.AllModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0].Name != "N" || loaded[1].Name != "P" {
		t.Errorf("loaded = %v", loaded)
	}
	if len(failed) != 1 || failed[0].Name != "K" {
		t.Errorf("failed = %v", failed)
	}
}

func TestClose(t *testing.T) {
	var closed int32
	r := New()
	if err := r.Register("N", closeCounter{model.Constant(1), &closed}); err != nil {
		t.Fatal(err)
	}
	// Replacing a pinned model retires the old one.
	if err := r.Register("N", closeCounter{model.Constant(2), &closed}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if closed != 2 {
		t.Errorf("closed %d models, want 2", closed)
	}
	if _, err := r.Lookup(context.Background(), "N"); !errors.Is(err, ErrClosed) {
		t.Errorf("lookup after close err = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

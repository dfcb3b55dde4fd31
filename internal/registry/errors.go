package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad marks a failure to load one model artifact.
	ErrModelLoad = errors.New("model load failed")
	// ErrNotFound is returned for a name with no artifact.
	ErrNotFound = errors.New("model not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry closed")
)

// LoadError is a load failure scoped to one model. It matches ErrModelLoad and the
// underlying cause under errors.Is.
type LoadError struct {
	Name string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %q from %s: %v", e.Name, e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrModelLoad, e.Err}
}

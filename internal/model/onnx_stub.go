//go:build !cgo
// +build !cgo

package model

import (
	"context"
	"errors"
)

// ONNXLoader stub type when built without CGO (see onnx.go for real implementation).
type ONNXLoader struct {
	opts ONNXOptions
}

// NewONNXLoader returns a loader whose Load always fails.
func NewONNXLoader(opts ONNXOptions) *ONNXLoader {
	return &ONNXLoader{opts: opts.withDefaults()}
}

// Load returns an error when built without CGO (ONNX not available).
func (l *ONNXLoader) Load(_ context.Context, _ string) (Model, error) {
	return nil, errors.New("ONNX models require CGO; build with CGO_ENABLED=1 and onnxruntime")
}

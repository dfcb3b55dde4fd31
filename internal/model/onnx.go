//go:build cgo
// +build cgo

package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/soilsense/internal/models"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime initialises the ONNX runtime once per process.
func initRuntime(sharedLibraryPath string) error {
	runtimeOnce.Do(func() {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// ONNXLoader opens ONNX regression artifacts. It requires CGO and the onnxruntime library.
type ONNXLoader struct {
	opts ONNXOptions
}

// NewONNXLoader returns a loader using opts; zero fields take defaults.
func NewONNXLoader(opts ONNXOptions) *ONNXLoader {
	return &ONNXLoader{opts: opts.withDefaults()}
}

// Load creates a session for the artifact at path.
func (l *ONNXLoader) Load(_ context.Context, path string) (Model, error) {
	if err := initRuntime(l.opts.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	n := l.opts.FeatureLength

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(n)), make([]float32, n))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		path,
		[]string{l.opts.InputName},
		[]string{l.opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		length:       n,
	}, nil
}

// ONNXModel scores feature vectors through an ONNX session. The session's
// bound tensors are shared, so Predict calls are serialised.
type ONNXModel struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	length       int
	mu           sync.Mutex
}

// Predict runs the session on features.
func (m *ONNXModel) Predict(_ context.Context, features models.FeatureVector) (float64, error) {
	if len(features) != m.length {
		return 0, fmt.Errorf("feature length %d does not match model input %d", len(features), m.length)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0, fmt.Errorf("model is closed")
	}

	input := m.inputTensor.GetData()
	for i, v := range features {
		input[i] = float32(v)
	}
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}
	return float64(m.outputTensor.GetData()[0]), nil
}

// Close destroys the session and tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.session != nil {
		err = m.session.Destroy()
		m.session = nil
	}
	if m.inputTensor != nil {
		_ = m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		_ = m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	return err
}

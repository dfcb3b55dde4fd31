package model

// ONNXOptions configures ONNX artifact loading.
type ONNXOptions struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	// FeatureLength is the width of the [1, n] input tensor.
	FeatureLength int
}

func (o ONNXOptions) withDefaults() ONNXOptions {
	if o.InputName == "" {
		o.InputName = "features"
	}
	if o.OutputName == "" {
		o.OutputName = "score"
	}
	if o.FeatureLength <= 0 {
		o.FeatureLength = 154
	}
	return o
}

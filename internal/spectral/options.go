package spectral

// Option configures a Filter or Preprocessor.
type Option func(*settings)

type settings struct {
	legacy bool
}

// WithLegacyWindowing reproduces the legacy smoothing indexing and float32
// intermediates. Only for models calibrated against the legacy pipeline.
func WithLegacyWindowing() Option {
	return func(s *settings) { s.legacy = true }
}

func applyOptions(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

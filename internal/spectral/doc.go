// Package spectral turns raw reflectance readings into feature vectors.
//
// A reading passes through three steps, always in this order:
//
//   - Absorbance: a[i] = ln(1 / r[i]). Every reflectance must be > 0.
//   - Savitzky-Golay smoothing with a fixed half-window of 11 samples and a
//     quadratic fit (see [Design] and [Filter]).
//   - Standard normal variate: subtract the reading's own mean and divide by its
//     population standard deviation (divisor n).
//
// # Usage
//
//	pre, err := spectral.NewPreprocessor()
//	features, err := pre.Transform(reflectance)
//
// [Preprocessor.Transform] never writes to its input and validates that every
// output value is finite.
//
// # Edge handling
//
// The smoothing filter never pads. The first and last sidePoints samples are
// estimated from the nearest full window, evaluating the fitted polynomial at
// the sample's offset inside that window.
//
// Models calibrated against the legacy preprocessing need [WithLegacyWindowing],
// which reproduces the legacy filter's indexing and float32 intermediates
// bit-for-bit.
package spectral

package spectral

import (
	"fmt"
	"math"

	"github.com/hyperjump/soilsense/pkg/utils"
)

// Smoothing parameters every nutrient model was calibrated with.
const (
	DefaultSidePoints      = 11
	DefaultPolynomialOrder = 2
)

// degenerateSpread is the relative spread below which a smoothed reading is
// treated as constant. Smoothing a constant sequence leaves rounding noise of
// a few ulps, which must not be amplified into a feature vector.
const degenerateSpread = 1e-12

// Preprocessor converts reflectance readings into feature vectors. The filter is
// designed once; Transform is safe for concurrent use.
type Preprocessor struct {
	filter *Filter
	legacy bool
}

// NewPreprocessor builds a preprocessor with the fixed smoothing parameters.
// A filter design failure is a configuration fault and is returned here, never
// from Transform.
func NewPreprocessor(opts ...Option) (*Preprocessor, error) {
	s := applyOptions(opts)
	f, err := NewFilter(DefaultSidePoints, DefaultPolynomialOrder, opts...)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{filter: f, legacy: s.legacy}, nil
}

// Legacy reports whether legacy windowing is enabled.
func (p *Preprocessor) Legacy() bool { return p.legacy }

// Transform returns the feature vector for one reading: absorbance, smoothing,
// then SNV. The input is not modified.
func (p *Preprocessor) Transform(reflectance []float64) ([]float64, error) {
	if p.legacy {
		return p.transformLegacy(reflectance)
	}
	absorbance, err := Absorbance(reflectance)
	if err != nil {
		return nil, err
	}
	smoothed, err := p.filter.Apply(absorbance)
	if err != nil {
		return nil, err
	}
	features, err := SNV(smoothed)
	if err != nil {
		return nil, err
	}
	return checkFinite(features)
}

// transformLegacy keeps every intermediate in float32, as the legacy pipeline
// stored readings in single precision between steps.
func (p *Preprocessor) transformLegacy(reflectance []float64) ([]float64, error) {
	absorbance := make([]float64, len(reflectance))
	for i, r := range reflectance {
		r32 := float32(r)
		if !(r32 > 0) || math.IsInf(float64(r32), 0) {
			return nil, fmt.Errorf("%w: value %v at index %d", ErrDomain, r, i)
		}
		absorbance[i] = float64(float32(math.Log(float64(1 / r32))))
	}
	if ok, idx := utils.AllFinite(absorbance); !ok {
		return nil, fmt.Errorf("%w: value %v at index %d has no finite absorbance", ErrDomain, reflectance[idx], idx)
	}
	smoothed, err := p.filter.Apply(absorbance)
	if err != nil {
		return nil, err
	}
	features, err := SNV(roundFloat32(smoothed))
	if err != nil {
		return nil, err
	}
	return checkFinite(roundFloat32(features))
}

func checkFinite(features []float64) ([]float64, error) {
	if ok, idx := utils.AllFinite(features); !ok {
		return nil, fmt.Errorf("%w: non-finite feature at index %d", ErrNumericDomain, idx)
	}
	return features, nil
}

// Absorbance returns ln(1/r) for every reflectance r. Any value that is not
// strictly positive, or whose absorbance is not finite, is an ErrDomain.
func Absorbance(reflectance []float64) ([]float64, error) {
	out := make([]float64, len(reflectance))
	for i, r := range reflectance {
		if !(r > 0) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%w: value %v at index %d", ErrDomain, r, i)
		}
		a := math.Log(1 / r)
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return nil, fmt.Errorf("%w: value %v at index %d has no finite absorbance", ErrDomain, r, i)
		}
		out[i] = a
	}
	return out, nil
}

// SNV returns (x - mean) / stddev using the population standard deviation of x.
func SNV(x []float64) ([]float64, error) {
	if len(x) <= 1 {
		return nil, fmt.Errorf("%w: %d samples", ErrNumericDomain, len(x))
	}
	mean, sd := utils.MeanStdDev(x)
	if math.IsNaN(sd) || math.IsInf(sd, 0) || sd <= degenerateSpread*math.Max(1, math.Abs(mean)) {
		return nil, fmt.Errorf("%w: standard deviation %g", ErrNumericDomain, sd)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - mean) / sd
	}
	return out, nil
}

func roundFloat32(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(float32(v))
	}
	return out
}

// Package models defines core data structures for readings, feature vectors, and predictions.
package models

// SpectrumLength is the number of reflectance samples in one spectrometer reading.
const SpectrumLength = 154

// Nominal wavelength range of a reading, in nanometres. Index 0 is the longest
// wavelength; samples are ordered by descending wavelength.
const (
	WavelengthStart = 2501.982414
	WavelengthEnd   = 1350.724346
)

// Spectrum is one raw reflectance reading: SpectrumLength values, each > 0,
// ordered by descending wavelength.
type Spectrum []float64

// FeatureVector is a fully preprocessed reading, the input of every nutrient model.
type FeatureVector []float64

// Clone returns a copy of s.
func (s Spectrum) Clone() Spectrum {
	return append(Spectrum(nil), s...)
}

// Wavelength returns the nominal wavelength of sample i, assuming uniform spacing
// between WavelengthStart and WavelengthEnd. It returns 0 when i is out of range.
func Wavelength(i int) float64 {
	if i < 0 || i >= SpectrumLength {
		return 0
	}
	step := (WavelengthStart - WavelengthEnd) / float64(SpectrumLength-1)
	return WavelengthStart - float64(i)*step
}

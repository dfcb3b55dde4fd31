package spectral

import "errors"

var (
	// ErrDomain is returned when a reflectance value is not strictly positive
	// and finite, so its absorbance is undefined.
	ErrDomain = errors.New("spectral: reflectance outside absorbance domain")
	// ErrNumericDomain is returned when normalisation is undefined (fewer than
	// two samples or zero spread) or produces non-finite values.
	ErrNumericDomain = errors.New("spectral: degenerate normalisation")
	// ErrFilterConfiguration is returned for filter parameters that cannot
	// produce a least-squares design.
	ErrFilterConfiguration = errors.New("spectral: invalid filter configuration")
	// ErrInputTooShort is returned when a sequence is shorter than one filter window.
	ErrInputTooShort = errors.New("spectral: input shorter than filter window")
)

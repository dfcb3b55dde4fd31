package spectral

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"
)

// Coefficients is the Savitzky-Golay projection matrix C = A (AᵗA)⁻¹ Aᵗ for a
// window of 2m+1 samples and a polynomial of order p. Column k holds the weights
// that estimate the fitted value at window position k. It is immutable.
type Coefficients struct {
	sidePoints int
	order      int
	cols       [][]float64
}

// Design computes the projection matrix for the given half-window and order.
// It requires sidePoints >= 0, polynomialOrder >= 0 and polynomialOrder <= 2*sidePoints,
// except that sidePoints == 0 yields the identity for any order.
func Design(sidePoints, polynomialOrder int) (*Coefficients, error) {
	if sidePoints < 0 {
		return nil, fmt.Errorf("%w: side points must be >= 0: %d", ErrFilterConfiguration, sidePoints)
	}
	if polynomialOrder < 0 {
		return nil, fmt.Errorf("%w: polynomial order must be >= 0: %d", ErrFilterConfiguration, polynomialOrder)
	}
	if sidePoints == 0 {
		// One-sample window: any fit passes through the sample.
		return &Coefficients{order: polynomialOrder, cols: [][]float64{{1}}}, nil
	}
	if polynomialOrder > 2*sidePoints {
		return nil, fmt.Errorf("%w: polynomial order %d exceeds window size %d - 1",
			ErrFilterConfiguration, polynomialOrder, 2*sidePoints+1)
	}

	size := 2*sidePoints + 1
	a := mat.NewDense(size, polynomialOrder+1, nil)
	for i := 0; i < size; i++ {
		x := float64(i - sidePoints)
		for j := 0; j <= polynomialOrder; j++ {
			a.Set(i, j, math.Pow(x, float64(j)))
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		return nil, fmt.Errorf("%w: normal matrix not invertible: %v", ErrFilterConfiguration, err)
	}
	var left, proj mat.Dense
	left.Mul(a, &inv)
	proj.Mul(&left, a.T())

	cols := make([][]float64, size)
	for k := range cols {
		col := make([]float64, size)
		for i := range col {
			col[i] = proj.At(i, k)
		}
		cols[k] = col
	}
	return &Coefficients{sidePoints: sidePoints, order: polynomialOrder, cols: cols}, nil
}

// SidePoints returns the half-window m.
func (c *Coefficients) SidePoints() int { return c.sidePoints }

// Order returns the polynomial order p.
func (c *Coefficients) Order() int { return c.order }

// Size returns the window length 2m+1.
func (c *Coefficients) Size() int { return len(c.cols) }

// At returns C[i][j].
func (c *Coefficients) At(i, j int) float64 { return c.cols[j][i] }

// Column returns a copy of column k.
func (c *Coefficients) Column(k int) []float64 {
	return append([]float64(nil), c.cols[k]...)
}

// Filter applies a designed Savitzky-Golay projection to whole sequences.
// It is safe for concurrent use.
type Filter struct {
	coeffs *Coefficients
	legacy bool
}

// NewFilter designs a filter. See [Design] for parameter constraints.
func NewFilter(sidePoints, polynomialOrder int, opts ...Option) (*Filter, error) {
	s := applyOptions(opts)
	if s.legacy && sidePoints < 1 {
		return nil, fmt.Errorf("%w: legacy windowing needs side points >= 1", ErrFilterConfiguration)
	}
	c, err := Design(sidePoints, polynomialOrder)
	if err != nil {
		return nil, err
	}
	return &Filter{coeffs: c, legacy: s.legacy}, nil
}

// Coefficients returns the filter's projection matrix.
func (f *Filter) Coefficients() *Coefficients { return f.coeffs }

// Apply returns the smoothed copy of samples. len(samples) must be at least 2m+1.
func (f *Filter) Apply(samples []float64) ([]float64, error) {
	size := f.coeffs.Size()
	if len(samples) < size {
		return nil, fmt.Errorf("%w: %d samples, window %d", ErrInputTooShort, len(samples), size)
	}
	if f.legacy {
		return f.applyLegacy(samples), nil
	}

	m := f.coeffs.sidePoints
	n := len(samples)
	out := make([]float64, n)
	scratch := make([]float64, size)

	head := samples[:size]
	for i := 0; i < m; i++ {
		out[i] = dot(scratch, f.coeffs.cols[i], head)
	}
	center := f.coeffs.cols[m]
	for i := m; i < n-m; i++ {
		out[i] = dot(scratch, center, samples[i-m:i+m+1])
	}
	tailStart := n - size
	tail := samples[tailStart:]
	for i := n - m; i < n; i++ {
		out[i] = dot(scratch, f.coeffs.cols[i-tailStart], tail)
	}
	return out, nil
}

// applyLegacy mirrors the legacy implementation: a single reused frame, the
// interior evaluated with column m+1, and a trailing frame refreshed with only
// its first 2m slots.
func (f *Filter) applyLegacy(samples []float64) []float64 {
	m := f.coeffs.sidePoints
	n := len(samples)
	size := f.coeffs.Size()
	out := make([]float64, n)
	frame := make([]float64, size)
	scratch := make([]float64, size)

	for i := 0; i <= m; i++ {
		copy(frame, samples[:size])
		out[i] = dot(scratch, f.coeffs.cols[i], frame)
	}
	for k := m + 1; k < n-m; k++ {
		copy(frame, samples[k-m:k-m+size])
		out[k] = dot(scratch, f.coeffs.cols[m+1], frame)
	}
	for i := 0; i <= m; i++ {
		copy(frame[:2*m], samples[n-2*m:])
		out[n-1-m+i] = dot(scratch, f.coeffs.cols[m+i], frame)
	}
	return out
}

func dot(scratch, a, b []float64) float64 {
	vecmath.MulBlock(scratch, a, b)
	var sum float64
	for _, v := range scratch {
		sum += v
	}
	return sum
}

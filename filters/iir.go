package filters

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidCoefficients is returned when a numerator or denominator is
	// empty, or the leading denominator coefficient is zero.
	ErrInvalidCoefficients = errors.New("filters: invalid coefficients")
)

// Coefficients describes one filter stage, either as a transfer function
// (B, A) or as second-order sections. When SOS is set, B and A are ignored.
// Coefficients are produced offline; nothing here designs filters.
type Coefficients struct {
	B   []float64   `yaml:"b,omitempty"`
	A   []float64   `yaml:"a,omitempty"`
	SOS [][]float64 `yaml:"sos,omitempty"`
}

// IsZero reports whether no coefficients were supplied, i.e. the stage is
// disabled.
func (c Coefficients) IsZero() bool {
	return len(c.B) == 0 && len(c.A) == 0 && len(c.SOS) == 0
}

// noCopy makes `go vet` flag copies of a filter by value. A copied filter
// would share nothing but would silently fork its delay line.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// IIR is a causal IIR filter in transposed direct form II, one sample at a
// time. The delay line z is owned by this instance: one IIR per channel and
// per stage, never shared.
type IIR struct {
	noCopy noCopy

	b  []float64 // numerator, len n
	a  []float64 // denominator, a[0] == 1, len n
	z  []float64 // delay line, len n-1
	zi []float64 // unit-step steady state, nil if it does not exist
}

// NewIIR builds a filter from transfer function coefficients. The shorter
// of b and a is zero-padded and both are normalized by a[0].
func NewIIR(c Coefficients) (*IIR, error) {
	if len(c.B) == 0 || len(c.A) == 0 {
		return nil, fmt.Errorf("%w: empty b or a", ErrInvalidCoefficients)
	}
	if c.A[0] == 0 {
		return nil, fmt.Errorf("%w: a[0] is zero", ErrInvalidCoefficients)
	}

	n := max(len(c.A), len(c.B))
	b := make([]float64, n)
	a := make([]float64, n)
	copy(b, c.B)
	copy(a, c.A)
	a0 := a[0]
	for i := range n {
		b[i] /= a0
		a[i] /= a0
	}

	f := &IIR{
		b:  b,
		a:  a,
		z:  make([]float64, n-1),
		zi: stepSteadyState(b, a),
	}
	// The steady state is seeded and then scaled to zero input, so a
	// signal resting at zero produces zero from the very first sample.
	f.Prime(0)
	return f, nil
}

// stepSteadyState returns the delay-line state after the filter has settled
// on a unit step, i.e. the solution of (I - companion(a)ᵀ)·zi = b[1:] - a[1:]·b[0].
// A filter with a pole at z=1 has no steady state and yields nil.
func stepSteadyState(b, a []float64) []float64 {
	m := len(a) - 1
	if m == 0 {
		return []float64{}
	}

	lhs := mat.NewDense(m, m, nil)
	rhs := mat.NewVecDense(m, nil)
	for i := range m {
		lhs.Set(i, i, 1)
		lhs.Set(i, 0, lhs.At(i, 0)+a[i+1])
		if i+1 < m {
			lhs.Set(i, i+1, -1)
		}
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(lhs, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil
		}
	}
	out := make([]float64, m)
	for i := range m {
		v := zi.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		out[i] = v
	}
	return out
}

// Prime loads the delay line with the steady state for a constant input x0.
// Prime(0) clears it. Filters without a steady state are always cleared.
func (f *IIR) Prime(x0 float64) {
	if f.zi == nil {
		clear(f.z)
		return
	}
	for i := range f.z {
		f.z[i] = f.zi[i] * x0
	}
}

// Order returns the filter order, the length of the delay line.
func (f *IIR) Order() int {
	return len(f.z)
}

// Sample filters one input value.
func (f *IIR) Sample(x float64) float64 {
	y := f.b[0] * x
	if len(f.z) == 0 {
		return y
	}
	y += f.z[0]

	last := len(f.z) - 1
	for i := 0; i < last; i++ {
		f.z[i] = f.b[i+1]*x + f.z[i+1] - f.a[i+1]*y
	}
	f.z[last] = f.b[last+1]*x - f.a[last+1]*y
	return y
}

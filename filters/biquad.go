package filters

import "fmt"

// Biquad is one second-order IIR section in transposed direct form II.
// The coefficients are normalized so that a0 == 1.
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	// delay line
	z1, z2 float64
}

// Sample filters one value through the section.
func (s *Biquad) Sample(in float64) float64 {
	out := in*s.b0 + s.z1
	s.z1 = in*s.b1 - out*s.a1 + s.z2
	s.z2 = in*s.b2 - out*s.a2
	return out
}

// SOS is a cascade of biquad sections, used for higher order filters
// where a single transfer function would lose precision.
type SOS struct {
	noCopy   noCopy
	sections []Biquad
}

// NewSOS builds a cascade from rows of [b0 b1 b2 a0 a1 a2].
func NewSOS(rows [][]float64) (*SOS, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no sections", ErrInvalidCoefficients)
	}
	sections := make([]Biquad, len(rows))
	for i, r := range rows {
		if len(r) != 6 {
			return nil, fmt.Errorf("%w: section %d has %d coefficients, want 6", ErrInvalidCoefficients, i, len(r))
		}
		a0 := r[3]
		if a0 == 0 {
			return nil, fmt.Errorf("%w: section %d a0 is zero", ErrInvalidCoefficients, i)
		}
		sections[i] = Biquad{
			b0: r[0] / a0, b1: r[1] / a0, b2: r[2] / a0,
			a1: r[4] / a0, a2: r[5] / a0,
		}
	}
	return &SOS{sections: sections}, nil
}

// Sample filters one value through every section in order.
func (f *SOS) Sample(in float64) float64 {
	out := in
	for i := range f.sections {
		out = f.sections[i].Sample(out)
	}
	return out
}

package muscle

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

var (
	ErrTableLength   = errors.New("muscle: x and y tables differ in length")
	ErrTableTooShort = errors.New("muscle: table needs at least 3 points")
	ErrTableOrder    = errors.New("muscle: x values must be strictly increasing")
)

// Table is a tabulated relationship y(x).
type Table struct {
	X []float64 `yaml:"x"`
	Y []float64 `yaml:"y"`
}

// Curve is a monotone piecewise cubic (Fritsch-Butland) through a Table. It
// never overshoots between samples. Outside the sampled domain it holds the
// value of the nearest end point; NaN input gives NaN.
type Curve struct {
	fb         interp.FritschButland
	xmin, xmax float64
	ymin, ymax float64 // y at xmin and at xmax
}

// NewCurve fits a curve through xs, ys.
func NewCurve(xs, ys []float64) (*Curve, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrTableLength, len(xs), len(ys))
	}
	if len(xs) < 3 {
		return nil, ErrTableTooShort
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return nil, fmt.Errorf("%w: x[%d]=%v after %v", ErrTableOrder, i, xs[i], xs[i-1])
		}
	}

	c := &Curve{
		xmin: xs[0], xmax: xs[len(xs)-1],
		ymin: ys[0], ymax: ys[len(ys)-1],
	}
	if err := c.fb.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("muscle: fit curve: %w", err)
	}
	return c, nil
}

// NewCurveFromTable is NewCurve for a Table.
func NewCurveFromTable(t Table) (*Curve, error) {
	return NewCurve(t.X, t.Y)
}

// At evaluates the curve at x.
func (c *Curve) At(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return x
	case x <= c.xmin:
		return c.ymin
	case x >= c.xmax:
		return c.ymax
	}
	return c.fb.Predict(x)
}

// Domain returns the sampled x range.
func (c *Curve) Domain() (float64, float64) {
	return c.xmin, c.xmax
}

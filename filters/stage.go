package filters

import "math"

// Stage is one step of a conditioning chain. Stateful stages keep their
// state inside the value behind the interface, so a Stage must belong to
// exactly one channel.
type Stage interface {
	Sample(x float64) float64
}

// NewStage builds the filter described by c. SOS rows take precedence over
// a transfer function.
func NewStage(c Coefficients) (Stage, error) {
	if len(c.SOS) > 0 {
		f, err := NewSOS(c.SOS)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	f, err := NewIIR(c)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Rectify is full-wave rectification.
type Rectify struct{}

func (Rectify) Sample(x float64) float64 { return math.Abs(x) }

// Scale divides every sample by Divisor, e.g. an MVC level.
type Scale struct {
	Divisor float64
}

func (s Scale) Sample(x float64) float64 { return x / s.Divisor }

// StageFunc adapts a plain function to a stateless Stage.
type StageFunc func(x float64) float64

func (fn StageFunc) Sample(x float64) float64 { return fn(x) }

package filters

import (
	"errors"
	"fmt"
)

// ErrInvalidMVC is returned for a non-positive normalization level.
var ErrInvalidMVC = errors.New("filters: MVC must be positive")

// ChainSpec is the coefficient set for the EMG conditioning chain. It holds
// no filter state: every Chain built from a spec allocates its own delay
// lines, so one spec can safely configure any number of channels.
type ChainSpec struct {
	Notch    Coefficients `yaml:"notch"`
	HighPass Coefficients `yaml:"highpass"`
	LowPass  Coefficients `yaml:"lowpass"`
}

// Chain conditions one EMG channel:
// notch -> high-pass -> rectify -> low-pass -> normalize.
// A disabled (empty) filter stage is skipped.
type Chain struct {
	stages   []Stage
	norm     Scale
	envelope float64
}

// NewEMGChain builds a chain for a single channel normalized by mvc.
func NewEMGChain(spec ChainSpec, mvc float64) (*Chain, error) {
	if !(mvc > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMVC, mvc)
	}
	c := &Chain{norm: Scale{Divisor: mvc}}

	if err := c.add("notch", spec.Notch); err != nil {
		return nil, err
	}
	if err := c.add("highpass", spec.HighPass); err != nil {
		return nil, err
	}
	c.stages = append(c.stages, Rectify{})
	if err := c.add("lowpass", spec.LowPass); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) add(name string, coeff Coefficients) error {
	if coeff.IsZero() {
		return nil
	}
	st, err := NewStage(coeff)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	c.stages = append(c.stages, st)
	return nil
}

// Sample runs one raw value through the chain and returns the normalized
// activation.
func (c *Chain) Sample(x float64) float64 {
	v := x
	for _, st := range c.stages {
		v = st.Sample(v)
	}
	c.envelope = v
	return c.norm.Sample(v)
}

// Envelope returns the last smoothed value before normalization.
func (c *Chain) Envelope() float64 {
	return c.envelope
}

// MVC returns the normalization level.
func (c *Chain) MVC() float64 {
	return c.norm.Divisor
}

// SetMVC replaces the normalization level. Non-positive values are ignored.
func (c *Chain) SetMVC(mvc float64) {
	if mvc > 0 {
		c.norm.Divisor = mvc
	}
}

// Bank is the set of per-channel chains for one connection.
type Bank struct {
	chains []*Chain
}

// NewBank builds one independent chain per channel. Channel i is normalized
// by mvc[i]; channels without an entry use 1.
func NewBank(spec ChainSpec, mvc []float64, channels int) (*Bank, error) {
	b := &Bank{chains: make([]*Chain, channels)}
	for i := range channels {
		level := 1.0
		if i < len(mvc) {
			level = mvc[i]
		}
		c, err := NewEMGChain(spec, level)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		b.chains[i] = c
	}
	return b, nil
}

// Len returns the number of channels.
func (b *Bank) Len() int {
	return len(b.chains)
}

// Chain returns the chain of channel i.
func (b *Bank) Chain(i int) *Chain {
	return b.chains[i]
}

// Process filters in into out, channel by channel. Both slices must hold at
// least Len() values.
func (b *Bank) Process(in, out []float64) {
	for i, c := range b.chains {
		out[i] = c.Sample(in[i])
	}
}

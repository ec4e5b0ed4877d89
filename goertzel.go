package uscope

import "math"

// Goertzel measures the power of one frequency over a block of samples.
type Goertzel struct {
	coeff  float64
	q1, q2 float64
}

func NewGoertzel(sampleRate, targetFreq float64) *Goertzel {
	return &Goertzel{coeff: 2 * math.Cos(2*math.Pi*targetFreq/sampleRate)}
}

// Reset starts a new block.
func (g *Goertzel) Reset() {
	g.q1, g.q2 = 0, 0
}

func (g *Goertzel) ProcessSample(sample float64) {
	q0 := g.coeff*g.q1 - g.q2 + sample
	g.q2 = g.q1
	g.q1 = q0
}

func (g *Goertzel) ProcessBlock(samples []float64) {
	for _, s := range samples {
		g.ProcessSample(s)
	}
}

// Power returns |X(f)|² of the block, on the same scale as a DFT bin.
func (g *Goertzel) Power() float64 {
	p := g.q1*g.q1 + g.q2*g.q2 - g.q1*g.q2*g.coeff
	return max(p, 0)
}

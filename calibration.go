package uscope

import "uscope/filters"

// Calibrator measures the maximum voluntary contraction of every channel.
// While active it tracks the peak of each chain's envelope; after the
// configured number of frames the peaks become the new MVC levels.
type Calibrator struct {
	frames    int
	remaining int
	floor     float64
	peaks     []*filters.PeakHold
}

// NewCalibrator creates a calibrator lasting frames frames. Envelope peaks
// at or below floor are rejected as "no contraction seen".
func NewCalibrator(frames int, floor float64) *Calibrator {
	return &Calibrator{frames: max(frames, 1), floor: floor}
}

// Restart begins a new measurement for channels channels.
func (c *Calibrator) Restart(channels int) {
	c.remaining = c.frames
	c.peaks = make([]*filters.PeakHold, channels)
	for i := range c.peaks {
		c.peaks[i] = filters.NewPeakHold(c.floor)
	}
}

// Active reports whether a measurement is running.
func (c *Calibrator) Active() bool {
	return c.remaining > 0
}

// Remaining returns the frames left in the measurement.
func (c *Calibrator) Remaining() int {
	return c.remaining
}

// Observe records the current envelopes of bank. It returns the measured
// levels when this frame completes the measurement, nil otherwise. A level
// of zero means the channel never rose above the floor.
func (c *Calibrator) Observe(bank *filters.Bank) []float64 {
	if !c.Active() {
		return nil
	}
	for i := 0; i < bank.Len() && i < len(c.peaks); i++ {
		c.peaks[i].Observe(bank.Chain(i).Envelope())
	}
	c.remaining--
	if c.remaining > 0 {
		return nil
	}

	levels := make([]float64, len(c.peaks))
	for i, p := range c.peaks {
		if peak := p.Peak(); peak > c.floor {
			levels[i] = peak
		}
	}
	return levels
}

package filters

// PeakHold holds the largest magnitude seen since it was created. MVC
// calibration keeps one per channel.
type PeakHold struct {
	peak float64
}

// NewPeakHold starts the hold at floor, so an idle channel reads as floor.
func NewPeakHold(floor float64) *PeakHold {
	return &PeakHold{peak: floor}
}

// Observe feeds one sample.
func (p *PeakHold) Observe(sample float64) {
	if sample < 0 {
		sample = -sample
	}
	if sample > p.peak {
		p.peak = sample
	}
}

// Peak returns the held peak.
func (p *PeakHold) Peak() float64 {
	return p.peak
}

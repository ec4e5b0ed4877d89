package filters

// DefaultEMGChain is the conditioning chain for 750 Hz EMG: a 50 Hz notch
// (Q=2), a 2nd order Butterworth high-pass at 15 Hz and a 2nd order
// Butterworth low-pass at 1.6 Hz. The coefficients were designed offline.
func DefaultEMGChain() ChainSpec {
	return ChainSpec{
		Notch: Coefficients{
			B: []float64{0.9048920165975036, -1.653319982839405, 0.9048920165975036},
			A: []float64{1, -1.653319982839405, 0.8097840331950072},
		},
		HighPass: Coefficients{
			B: []float64{0.9149691441130827, -1.8299382882261654, 0.9149691441130827},
			A: []float64{1, -1.8226949251963083, 0.8371816512560226},
		},
		LowPass: Coefficients{
			B: []float64{4.449527346445907e-05, 8.899054692891814e-05, 4.449527346445907e-05},
			A: []float64{1, -1.981044259112903, 0.981222240206761},
		},
	}
}

package uscope

// Frame is one multi-channel sample as sent by the device.
type Frame struct {
	// Timestamp is the device clock in microseconds. It may wrap or restart.
	Timestamp int64
	Channels  uint8
	Samples   []float32 // len(Samples) == int(Channels)
}

// Float64s converts the samples into dst, growing it if needed.
func (f Frame) Float64s(dst []float64) []float64 {
	dst = dst[:0]
	for _, v := range f.Samples {
		dst = append(dst, float64(v))
	}
	return dst
}

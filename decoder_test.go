package uscope

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeFrame builds one wire frame with big-endian samples.
func encodeFrame(ts int32, samples ...float32) []byte {
	return encodeFrameOrder(binary.BigEndian, ts, samples...)
}

func encodeFrameOrder(order binary.AppendByteOrder, ts int32, samples ...float32) []byte {
	b := append([]byte(nil), Magic[:]...)
	b = append(b, byte(len(samples)))
	b = binary.BigEndian.AppendUint32(b, uint32(ts))
	for _, v := range samples {
		b = order.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func decodeAll(d *FrameDecoder, p []byte) []Frame {
	var out []Frame
	d.Feed(p, func(f Frame) { out = append(out, f) })
	return out
}

func TestDecodeExampleFrame(t *testing.T) {
	raw := []byte{
		0x7F, 0xFF, 0xBF, 0x02,
		0x00, 0x00, 0x00, 0x01,
		0x3F, 0x80, 0x00, 0x00,
		0x40, 0x00, 0x00, 0x00,
	}
	frames := decodeAll(NewFrameDecoder(), raw)
	require.Len(t, frames, 1)
	require.Equal(t, int64(1), frames[0].Timestamp)
	require.Equal(t, uint8(2), frames[0].Channels)
	require.Equal(t, []float32{1, 2}, frames[0].Samples)
}

func TestDecodeSkipsLeadingGarbage(t *testing.T) {
	d := NewFrameDecoder()
	raw := append([]byte{0x00, 0x12, 0x7F, 0xBF, 0xFF}, encodeFrame(42, 0.5)...)
	frames := decodeAll(d, raw)
	require.Len(t, frames, 1)
	require.Equal(t, int64(42), frames[0].Timestamp)
	require.Equal(t, []float32{0.5}, frames[0].Samples)
	require.Equal(t, uint64(5), d.Garbage())
}

func TestDecodeResyncAfterCorruptMagic(t *testing.T) {
	d := NewFrameDecoder()
	raw := append([]byte{0x7F, 0xFF, 0x00}, encodeFrame(7, 1, 2, 3)...)
	frames := decodeAll(d, raw)
	require.Len(t, frames, 1)
	require.Equal(t, int64(7), frames[0].Timestamp)
	require.Equal(t, []float32{1, 2, 3}, frames[0].Samples)
	require.Equal(t, uint64(3), d.Garbage())
	require.Equal(t, uint64(1), d.Frames())
}

func TestDecodeByteByByte(t *testing.T) {
	d := NewFrameDecoder()
	raw := append(encodeFrame(1, 1), encodeFrame(2, 2)...)
	completed := 0
	for i, b := range raw {
		if d.ReceiveByte(b) {
			completed++
			require.Equal(t, int64(completed), d.Frame().Timestamp, "byte %d", i)
		}
	}
	require.Equal(t, 2, completed)
}

func TestDecodeZeroChannels(t *testing.T) {
	frames := decodeAll(NewFrameDecoder(), append(encodeFrame(99), encodeFrame(100, 4)...))
	require.Len(t, frames, 2)
	require.Equal(t, int64(99), frames[0].Timestamp)
	require.Equal(t, uint8(0), frames[0].Channels)
	require.Empty(t, frames[0].Samples)
	require.Equal(t, []float32{4}, frames[1].Samples)
}

func TestDecodeNegativeTimestamp(t *testing.T) {
	frames := decodeAll(NewFrameDecoder(), encodeFrame(-5, 1))
	require.Len(t, frames, 1)
	require.Equal(t, int64(-5), frames[0].Timestamp)
}

func TestDecodeLittleEndianSamples(t *testing.T) {
	d := NewFrameDecoder(WithSampleOrder(binary.LittleEndian))
	frames := decodeAll(d, encodeFrameOrder(binary.LittleEndian, 3, 1.5, -2.25))
	require.Len(t, frames, 1)
	require.Equal(t, int64(3), frames[0].Timestamp)
	require.Equal(t, []float32{1.5, -2.25}, frames[0].Samples)
}

func TestDecodeFramesDoNotShareSamples(t *testing.T) {
	frames := decodeAll(NewFrameDecoder(), append(encodeFrame(1, 1, 1), encodeFrame(2, 2, 2)...))
	require.Len(t, frames, 2)
	frames[0].Samples[0] = 100
	require.Equal(t, []float32{2, 2}, frames[1].Samples)
}

func TestDecodeResetDropsPartialFrame(t *testing.T) {
	d := NewFrameDecoder()
	full := encodeFrame(1, 1, 2)
	require.Empty(t, decodeAll(d, full[:10]))
	d.Reset()
	frames := decodeAll(d, encodeFrame(2, 3))
	require.Len(t, frames, 1)
	require.Equal(t, int64(2), frames[0].Timestamp)
}

func TestDecodeWriteUsesHandler(t *testing.T) {
	var got []Frame
	d := NewFrameDecoder(WithFrameHandler(func(f Frame) { got = append(got, f) }))
	raw := append(encodeFrame(1, 1), encodeFrame(2, 2)...)
	// split mid-frame
	n, err := d.Write(raw[:11])
	require.NoError(t, err)
	require.Equal(t, 11, n)
	_, err = d.Write(raw[11:])
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []float32{2}, got[1].Samples)
}

func TestFrameFloat64s(t *testing.T) {
	f := Frame{Channels: 2, Samples: []float32{1.5, -3}}
	dst := make([]float64, 0, 4)
	out := f.Float64s(dst)
	require.Equal(t, []float64{1.5, -3}, out)
	require.Equal(t, 4, cap(out))
}

package uscope

import (
	"encoding/binary"
	"math"
)

// Magic starts every frame on the wire:
//
//	7F FF BF | N | int32 BE micros | N x float32
var Magic = [3]byte{0x7F, 0xFF, 0xBF}

type decodeState uint8

const (
	stateHeader decodeState = iota
	stateSize
	stateTime
	stateData
)

// FrameDecoder reassembles frames from a byte stream one byte at a time.
// A byte that breaks the magic sequence is dropped and matching restarts
// at the next byte; nothing is buffered while hunting for a header. The
// zero value is not usable, use NewFrameDecoder.
type FrameDecoder struct {
	order   binary.ByteOrder
	onFrame func(Frame)

	state   decodeState
	matched int
	word    [4]byte
	wlen    int

	channels uint8
	ts       int32
	samples  []float32
	frame    Frame

	frames  uint64
	garbage uint64
}

// DecoderOption configures a FrameDecoder.
type DecoderOption func(*FrameDecoder)

// WithSampleOrder sets the byte order of the float payload. The default is
// big-endian; some firmware sends native little-endian floats.
func WithSampleOrder(order binary.ByteOrder) DecoderOption {
	return func(d *FrameDecoder) {
		d.order = order
	}
}

// WithFrameHandler sets the function Write calls for every completed frame.
func WithFrameHandler(fn func(Frame)) DecoderOption {
	return func(d *FrameDecoder) {
		d.onFrame = fn
	}
}

func NewFrameDecoder(opts ...DecoderOption) *FrameDecoder {
	d := &FrameDecoder{order: binary.BigEndian}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReceiveByte advances the state machine and reports whether b completed a
// frame, which is then available from Frame.
func (d *FrameDecoder) ReceiveByte(b byte) bool {
	switch d.state {
	case stateHeader:
		if b == Magic[d.matched] {
			d.matched++
			if d.matched == len(Magic) {
				d.matched = 0
				d.state = stateSize
			}
			return false
		}
		d.garbage += uint64(d.matched) + 1
		d.matched = 0

	case stateSize:
		d.channels = b
		d.wlen = 0
		d.state = stateTime

	case stateTime:
		if !d.push(b) {
			return false
		}
		d.ts = int32(binary.BigEndian.Uint32(d.word[:]))
		d.samples = make([]float32, 0, d.channels)
		if d.channels == 0 {
			return d.complete()
		}
		d.state = stateData

	case stateData:
		if !d.push(b) {
			return false
		}
		d.samples = append(d.samples, math.Float32frombits(d.order.Uint32(d.word[:])))
		if len(d.samples) == int(d.channels) {
			return d.complete()
		}
	}
	return false
}

// push collects one byte of a 4-byte word and reports a full word.
func (d *FrameDecoder) push(b byte) bool {
	d.word[d.wlen] = b
	d.wlen++
	if d.wlen < len(d.word) {
		return false
	}
	d.wlen = 0
	return true
}

func (d *FrameDecoder) complete() bool {
	d.frame = Frame{
		Timestamp: int64(d.ts),
		Channels:  d.channels,
		Samples:   d.samples,
	}
	d.samples = nil
	d.state = stateHeader
	d.frames++
	return true
}

// Frame returns the most recently completed frame. Its Samples slice is
// owned by the caller.
func (d *FrameDecoder) Frame() Frame {
	return d.frame
}

// Feed decodes p and calls fn for every completed frame. It returns the
// number of frames found.
func (d *FrameDecoder) Feed(p []byte, fn func(Frame)) int {
	n := 0
	for _, b := range p {
		if d.ReceiveByte(b) {
			n++
			if fn != nil {
				fn(d.frame)
			}
		}
	}
	return n
}

// Write implements io.Writer on top of Feed using the frame handler. It
// never fails.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	d.Feed(p, d.onFrame)
	return len(p), nil
}

// Reset drops any partial frame and hunts for the next header.
func (d *FrameDecoder) Reset() {
	d.state = stateHeader
	d.matched = 0
	d.wlen = 0
	d.samples = nil
}

// Frames returns the number of frames completed.
func (d *FrameDecoder) Frames() uint64 {
	return d.frames
}

// Garbage returns the number of bytes discarded while hunting for a header.
func (d *FrameDecoder) Garbage() uint64 {
	return d.garbage
}

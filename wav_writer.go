package uscope

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
	wavHeaderSize  = 44
)

// WavWriter records multi-channel 32-bit float audio.
type WavWriter struct {
	file       *os.File
	buf        *bufio.Writer
	sampleRate int
	channels   int
	dataSize   int
	scratch    []byte
}

// NewWavWriter creates filename with a placeholder header; Close writes the
// final sizes.
func NewWavWriter(filename string, sampleRate, channels int) (*WavWriter, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("wav: bad format %d Hz x %d channels", sampleRate, channels)
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return nil, err
	}
	return &WavWriter{
		file:       f,
		buf:        bufio.NewWriter(f),
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Channels returns the channel count fixed at creation.
func (w *WavWriter) Channels() int {
	return w.channels
}

// WriteFrame appends one sample per channel. Missing channels are written
// as silence and extra ones are dropped.
func (w *WavWriter) WriteFrame(samples []float32) error {
	need := 4 * w.channels
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	b := w.scratch[:need]
	for c := 0; c < w.channels; c++ {
		var v float32
		if c < len(samples) {
			v = samples[c]
		}
		binary.LittleEndian.PutUint32(b[4*c:], math.Float32bits(v))
	}
	n, err := w.buf.Write(b)
	w.dataSize += n
	return err
}

// Close flushes the samples and rewrites the header.
func (w *WavWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}

	blockAlign := 4 * w.channels
	header := make([]byte, wavHeaderSize)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+w.dataSize))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], wavFormatFloat)
	binary.LittleEndian.PutUint16(header[22:], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(w.sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:], 32)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(w.dataSize))

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return err
	}
	if _, err := w.file.Write(header); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

package uscope

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
)

var ErrWavFormat = errors.New("wav: unsupported format")

// WavReader reads 16-bit PCM or 32-bit float WAV files of any channel
// count.
type WavReader struct {
	file       *os.File
	r          *bufio.Reader
	SampleRate int
	Channels   int
	Format     int
	Bits       int
	DataSize   int
	remaining  int
}

func NewWavReader(filename string) (*WavReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	w, err := readWavHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	w.file = f
	w.r = bufio.NewReader(f)
	return w, nil
}

func readWavHeader(f *os.File) (*WavReader, error) {
	riff := make([]byte, 12)
	if _, err := io.ReadFull(f, riff); err != nil {
		return nil, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrWavFormat)
	}

	w := &WavReader{}
	foundFmt := false
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrWavFormat)
			}
			return nil, err
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		padding := size % 2

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too small", ErrWavFormat)
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, err
			}
			if _, err := f.Seek(padding, io.SeekCurrent); err != nil {
				return nil, err
			}
			w.Format = int(binary.LittleEndian.Uint16(data[0:2]))
			w.Channels = int(binary.LittleEndian.Uint16(data[2:4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[4:8]))
			w.Bits = int(binary.LittleEndian.Uint16(data[14:16]))
			foundFmt = true

		case "data":
			if !foundFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrWavFormat)
			}
			switch {
			case w.Format == wavFormatPCM && w.Bits == 16:
			case w.Format == wavFormatFloat && w.Bits == 32:
			default:
				return nil, fmt.Errorf("%w: format %d with %d bits", ErrWavFormat, w.Format, w.Bits)
			}
			if w.Channels <= 0 || w.SampleRate <= 0 {
				return nil, fmt.Errorf("%w: %d Hz x %d channels", ErrWavFormat, w.SampleRate, w.Channels)
			}
			w.DataSize = int(size)
			w.remaining = int(size)
			return w, nil

		default:
			if _, err := f.Seek(size+padding, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
}

// ReadFrames reads up to count frames as interleaved samples scaled to
// [-1, 1]. It returns io.EOF once the data chunk is exhausted.
func (r *WavReader) ReadFrames(count int) ([]float32, error) {
	width := r.Bits / 8
	frameBytes := width * r.Channels
	want := min(count*frameBytes, r.remaining/frameBytes*frameBytes)
	if want == 0 {
		return nil, io.EOF
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(r.r, buf)
	r.remaining -= n
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	n -= n % frameBytes
	if n == 0 {
		return nil, io.EOF
	}

	out := make([]float32, n/width)
	for i := range out {
		b := buf[i*width:]
		if r.Format == wavFormatFloat {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		} else {
			out[i] = float32(int16(binary.LittleEndian.Uint16(b))) / 32768.0
		}
	}
	return out, nil
}

func (r *WavReader) Close() error {
	return r.file.Close()
}

// WavSource replays a WAV recording, one frame per sample instant.
type WavSource struct {
	Path string
	// Rate paces replay in frames per second; 0 replays as fast as the
	// pipeline consumes.
	Rate float64
	Log  *slog.Logger
}

func (s *WavSource) Run(ctx context.Context, out chan<- Frame) error {
	r, err := NewWavReader(s.Path)
	if err != nil {
		return err
	}
	defer r.Close()
	if r.Channels > math.MaxUint8 {
		return fmt.Errorf("%w: %d channels", ErrWavFormat, r.Channels)
	}
	if s.Log != nil {
		s.Log.Info("replaying wav", "file", s.Path, "rate", r.SampleRate, "channels", r.Channels)
	}

	p := newPacer(s.Rate)
	defer p.stop()

	const chunk = 1024
	var index int64
	for {
		samples, err := r.ReadFrames(chunk)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.Path, err)
		}
		for i := 0; i+r.Channels <= len(samples); i += r.Channels {
			f := Frame{
				Timestamp: index * 1_000_000 / int64(r.SampleRate),
				Channels:  uint8(r.Channels),
				Samples:   samples[i : i+r.Channels : i+r.Channels],
			}
			index++
			if err := p.wait(ctx); err != nil {
				return err
			}
			if err := emit(ctx, out, f); err != nil {
				return err
			}
		}
	}
}

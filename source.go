package uscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source produces frames in device order. Run blocks until ctx is done, the
// stream ends (nil) or the device fails. It must not close out.
type Source interface {
	Run(ctx context.Context, out chan<- Frame) error
}

// emit queues f, waiting for room rather than dropping or reordering.
func emit(ctx context.Context, out chan<- Frame, f Frame) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pacer spaces frames to a fixed rate; a zero rate never waits.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(rate float64) *pacer {
	if rate <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: time.NewTicker(time.Duration(float64(time.Second) / rate))}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-p.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// StreamSource decodes frames from a byte stream such as a serial port or
// a raw capture file.
type StreamSource struct {
	r       io.Reader
	dec     *FrameDecoder
	name    string
	eofIdle bool
	rate    float64
	bufSize int
	log     *slog.Logger
	metrics *Metrics
}

// StreamOption configures a StreamSource.
type StreamOption func(*StreamSource)

// WithEOFIdle treats io.EOF as "no data yet". Serial drivers report an
// expired read timeout that way.
func WithEOFIdle() StreamOption {
	return func(s *StreamSource) { s.eofIdle = true }
}

// WithRate paces decoded frames to rate frames per second.
func WithRate(rate float64) StreamOption {
	return func(s *StreamSource) { s.rate = rate }
}

func WithDecoder(d *FrameDecoder) StreamOption {
	return func(s *StreamSource) { s.dec = d }
}

func WithStreamName(name string) StreamOption {
	return func(s *StreamSource) { s.name = name }
}

func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *StreamSource) { s.log = l }
}

func WithStreamMetrics(m *Metrics) StreamOption {
	return func(s *StreamSource) { s.metrics = m }
}

func NewStreamSource(r io.Reader, opts ...StreamOption) *StreamSource {
	s := &StreamSource{
		r:       r,
		name:    "stream",
		bufSize: 4096,
		log:     NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dec == nil {
		s.dec = NewFrameDecoder()
	}
	return s
}

// Decoder exposes the decoder, mainly for its garbage counter.
func (s *StreamSource) Decoder() *FrameDecoder {
	return s.dec
}

func (s *StreamSource) Run(ctx context.Context, out chan<- Frame) error {
	p := newPacer(s.rate)
	defer p.stop()

	buf := make([]byte, s.bufSize)
	var pending []Frame
	collect := func(f Frame) { pending = append(pending, f) }

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.r.Read(buf)
		if n > 0 {
			before := s.dec.Garbage()
			s.dec.Feed(buf[:n], collect)
			if s.metrics != nil {
				s.metrics.Garbage.Inc(int64(s.dec.Garbage() - before))
			}
			for i, f := range pending {
				if err := p.wait(ctx); err != nil {
					return err
				}
				if err := emit(ctx, out, f); err != nil {
					return err
				}
				pending[i] = Frame{}
			}
			pending = pending[:0]
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && s.eofIdle:
		case errors.Is(err, io.EOF):
			s.log.Info("end of stream", "source", s.name, "frames", s.dec.Frames(), "garbage", s.dec.Garbage())
			return nil
		case isTimeout(err):
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s read: %w", s.name, err)
		}
	}
}

// FileSource replays a raw byte capture.
type FileSource struct {
	Path string
	opts []StreamOption
}

func NewFileSource(path string, opts ...StreamOption) *FileSource {
	return &FileSource{Path: path, opts: opts}
}

func (s *FileSource) Run(ctx context.Context, out chan<- Frame) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	opts := append([]StreamOption{WithStreamName(filepath.Base(s.Path))}, s.opts...)
	return NewStreamSource(f, opts...).Run(ctx, out)
}

// NewSource builds the source selected by cfg.Source.Kind.
func NewSource(cfg *Config, log *slog.Logger, m *Metrics) (Source, error) {
	sc := cfg.Source
	stream := []StreamOption{
		WithDecoder(NewFrameDecoder(WithSampleOrder(sc.ByteOrder()))),
		WithStreamLogger(log),
		WithStreamMetrics(m),
	}

	switch sc.Kind {
	case "serial":
		return NewSerialSource(sc.Port, sc.Baud, sc.ReadTimeout, stream...), nil
	case "hid":
		return &HIDSource{
			Path:       sc.HIDPath,
			ReportSize: sc.ReportSize,
			Poll:       sc.ReadTimeout,
			Log:        log,
			Metrics:    m,
		}, nil
	case "audio":
		return NewAudioSource(sc.AudioDevice, int(cfg.SampleRate), sc.AudioChannels, log, m), nil
	case "replay":
		if strings.EqualFold(filepath.Ext(sc.File), ".wav") {
			return &WavSource{Path: sc.File, Rate: sc.Rate, Log: log}, nil
		}
		return NewFileSource(sc.File, append(stream, WithRate(sc.Rate))...), nil
	case "wav":
		return &WavSource{Path: sc.File, Rate: sc.Rate, Log: log}, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, sc.Kind)
}

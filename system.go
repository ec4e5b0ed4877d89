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
	"sync"
	"time"

	"uscope/telemetry"
)

// SampleColumns names the telemetry columns of an n-channel session.
func SampleColumns(n int) []string {
	return append(telemetry.ChannelHeader(n), "angle [deg]")
}

// System manages the lifetime of one acquisition session: the source, the
// processing pipeline and the optional monitor, display and recorders.
//
// The source runs on its own goroutine and hands frames over a FIFO queue to
// the processing goroutine, which owns the pipeline.
type System struct {
	cfg      *Config
	log      *slog.Logger
	metrics  *Metrics
	source   Source
	pipeline *Pipeline
	buffer   *telemetry.RingBuffer
	monitor  *MainsMonitor
	display  *Display

	displayOut io.Writer
	pipeOpts   []PipelineOption

	recorder *telemetry.Recorder
	wav      *WavWriter
	wavPath  string
	csvRow   []float64
	csvOff   bool
	wavOff   bool
	segment  int // recording files opened so far, one per channel layout
	recWidth int

	// OnSample is called on the processing goroutine after every frame. It
	// may call Calibrate or Reset; those take effect before the next frame.
	OnSample func(Sample)

	frames chan Frame
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// control work for the processing goroutine
	ctrlMu  sync.Mutex
	pending []func(*Pipeline)
	wake    chan struct{}
	ended   bool

	waitOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// SystemOption configures a System.
type SystemOption func(*System)

func WithLogger(l *slog.Logger) SystemOption {
	return func(s *System) { s.log = l }
}

func WithMetrics(m *Metrics) SystemOption {
	return func(s *System) { s.metrics = m }
}

// WithDisplayOutput sends the terminal display to w instead of stdout.
func WithDisplayOutput(w io.Writer) SystemOption {
	return func(s *System) { s.displayOut = w }
}

// WithPipelineOptions passes extra options to the pipeline.
func WithPipelineOptions(opts ...PipelineOption) SystemOption {
	return func(s *System) { s.pipeOpts = append(s.pipeOpts, opts...) }
}

// NewSystem wires a session. A nil src builds the source named by the
// config.
func NewSystem(cfg *Config, src Source, opts ...SystemOption) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &System{
		cfg:        cfg,
		log:        NopLogger(),
		displayOut: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}

	s.buffer = telemetry.NewRingBuffer(0, cfg.Telemetry.Capacity)
	pipeOpts := append([]PipelineOption{
		WithPipelineLogger(s.log),
		WithPipelineMetrics(s.metrics),
		WithBuffer(s.buffer),
	}, s.pipeOpts...)
	p, err := NewPipeline(cfg, pipeOpts...)
	if err != nil {
		return nil, err
	}
	s.pipeline = p

	if src == nil {
		if src, err = NewSource(cfg, s.log, s.metrics); err != nil {
			return nil, err
		}
	}
	s.source = src

	if cfg.Monitor.Enabled {
		s.monitor = NewMainsMonitor(cfg.SampleRate, cfg.Monitor, s.log, s.metrics)
	}
	if cfg.Display.Enabled {
		d := cfg.DynamicsConfig()
		s.display = NewDisplay(s.displayOut, s.buffer, cfg.Display, d.AngleMin, d.AngleMax)
	}
	return s, nil
}

// Buffer returns the telemetry buffer.
func (s *System) Buffer() *telemetry.RingBuffer {
	return s.buffer
}

func (s *System) Metrics() *Metrics {
	return s.metrics
}

// Monitor returns the mains monitor, or nil when disabled.
func (s *System) Monitor() *MainsMonitor {
	return s.monitor
}

// Start launches the session goroutines. It returns immediately; use Wait
// or Stop to end the session.
func (s *System) Start(ctx context.Context) error {
	if s.frames != nil {
		return errors.New("system already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.frames = make(chan Frame, s.cfg.Source.QueueSize)
	s.done = make(chan struct{})
	s.ctrlMu.Lock()
	s.wake = make(chan struct{}, 1)
	s.ctrlMu.Unlock()

	s.log.Info("session starting",
		"source", s.cfg.Source.Kind,
		"sample_rate", s.cfg.SampleRate,
		"model", s.cfg.Model.Kind)

	s.wg.Add(2)
	go s.runSource(ctx)
	go s.runPipeline()

	if s.monitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.monitor.Run(ctx)
		}()
	}
	if s.display != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.display.Run(ctx)
		}()
	}
	s.wg.Add(1)
	go s.runStats(ctx)
	return nil
}

func (s *System) runSource(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	err := s.source.Run(ctx, s.frames)
	switch {
	case err == nil:
		s.log.Info("source finished")
	case errors.Is(err, context.Canceled):
	default:
		s.log.Error("source failed", "err", err)
		s.setErr(fmt.Errorf("source: %w", err))
	}
}

// runPipeline processes frames in queue order until the source closes the
// queue, then ends the session.
func (s *System) runPipeline() {
	defer s.wg.Done()
	defer close(s.done)
	defer s.cancel()
	defer s.closeOutputs()
	defer s.endControl()

	for {
		select {
		case f, ok := <-s.frames:
			if !ok {
				return
			}
			s.handle(f)
			s.runControl()
		case <-s.wake:
			s.runControl()
		}
	}
}

// runControl runs the queued control work on the processing goroutine.
func (s *System) runControl() {
	s.ctrlMu.Lock()
	work := s.pending
	s.pending = nil
	s.ctrlMu.Unlock()
	for _, fn := range work {
		fn(s.pipeline)
	}
}

func (s *System) endControl() {
	s.ctrlMu.Lock()
	s.ended = true
	s.pending = nil
	s.ctrlMu.Unlock()
}

func (s *System) handle(f Frame) {
	sample, err := s.pipeline.Process(f)
	if err != nil {
		s.log.Error("process frame", "err", err)
		return
	}
	if s.monitor != nil {
		s.monitor.Push(sample.Raw)
	}
	s.record(f, sample)
	if s.OnSample != nil {
		s.OnSample(sample)
	}
}

// record writes the sample to the CSV and WAV files. Both are opened on the
// first frame, when the channel count is known, and reopened under a
// numbered name whenever the channel count changes.
func (s *System) record(f Frame, sample Sample) {
	if n := len(sample.Filtered); s.segment == 0 || n != s.recWidth {
		s.openOutputs(n)
	}
	if s.recorder != nil {
		s.csvRow = append(append(s.csvRow[:0], sample.Filtered...), sample.Angle)
		s.recorder.Record(sample.Time, s.csvRow)
	}
	if s.wav != nil {
		if err := s.wav.WriteFrame(f.Samples); err != nil {
			s.log.Error("wav write", "err", err)
		}
	}
}

func (s *System) openOutputs(n int) {
	if s.segment > 0 {
		s.closeOutputs()
		s.log.Info("channel count changed, starting new recording files", "channels", n)
	}
	s.segment++
	s.recWidth = n

	if path := s.cfg.Telemetry.CSV; path != "" && !s.csvOff {
		path = segmentPath(path, s.segment)
		r, err := telemetry.NewRecorder(path, s.cfg.Telemetry.BufferSize, SampleColumns(n))
		if err != nil {
			s.log.Error("csv recorder disabled", "err", err)
			s.csvOff = true
		} else {
			s.recorder = r
			s.log.Info("recording samples", "file", path)
		}
	}

	if path := s.cfg.Record.WAV; path != "" && !s.wavOff && n > 0 {
		path = segmentPath(path, s.segment)
		w, err := NewWavWriter(path, int(s.cfg.SampleRate), n)
		if err != nil {
			s.log.Error("wav recording disabled", "err", err)
			s.wavOff = true
		} else {
			s.wav, s.wavPath = w, path
			s.log.Info("recording raw channels", "file", path, "channels", n)
		}
	}
}

// segmentPath names the file of recording segment seg: the first keeps
// path, later ones get "-seg" before the extension.
func segmentPath(path string, seg int) string {
	if seg <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), seg, ext)
}

func (s *System) closeOutputs() {
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Error("close csv", "err", err)
		} else {
			s.log.Info("csv saved", "rows", s.recorder.Rows())
		}
		s.recorder = nil
	}
	if s.wav != nil {
		if err := s.wav.Close(); err != nil {
			s.log.Error("close wav", "err", err)
		} else {
			s.log.Info("recording saved", "file", s.wavPath)
		}
		s.wav = nil
	}
}

func (s *System) runStats(ctx context.Context) {
	defer s.wg.Done()
	if s.cfg.Stats.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Stats.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Info("stats", s.metrics.LogAttrs()...)
			if err := s.flushRecorder(); err != nil {
				s.log.Error("flush csv", "err", err)
			}
		}
	}
}

// flushRecorder flushes through the processing goroutine, which owns the
// recorder handle.
func (s *System) flushRecorder() error {
	errc := make(chan error, 1)
	ok := s.exec(func(*Pipeline) {
		if s.recorder == nil {
			errc <- nil
			return
		}
		errc <- s.recorder.Flush()
	})
	if !ok {
		return nil
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return nil
	}
}

// exec queues fn for the processing goroutine without waiting for it, so
// it is safe to call from OnSample. It reports false when the session is
// not running.
func (s *System) exec(fn func(*Pipeline)) bool {
	s.ctrlMu.Lock()
	if s.wake == nil || s.ended {
		s.ctrlMu.Unlock()
		return false
	}
	s.pending = append(s.pending, fn)
	s.ctrlMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Calibrate starts an MVC measurement of duration d on the running session.
func (s *System) Calibrate(d time.Duration) bool {
	return s.exec(func(p *Pipeline) {
		p.Calibrate(d)
		s.log.Info("calibration started", "duration", d)
	})
}

// Reset restarts the running session with the current channel count.
func (s *System) Reset() bool {
	return s.exec(func(p *Pipeline) {
		if p.Channels() < 0 {
			return
		}
		if err := p.Reset(p.Channels()); err != nil {
			s.log.Error("reset", "err", err)
		}
	})
}

// Done is closed when the session has ended.
func (s *System) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every goroutine has exited and returns the first error.
func (s *System) Wait() error {
	s.wg.Wait()
	s.waitOnce.Do(func() {
		s.metrics.Stop()
		s.log.Info("session ended", s.metrics.LogAttrs()...)
	})
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop cancels the session and waits for it.
func (s *System) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.Wait()
}

func (s *System) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

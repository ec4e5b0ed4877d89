package uscope

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"uscope/dynamics"
	"uscope/filters"
	"uscope/muscle"
	"uscope/telemetry"
)

// Sample is the result of processing one frame. Raw and Filtered are
// reused by the next Process call.
type Sample struct {
	Time     float64 // seconds since the first frame of the session
	Angle    float64 // degrees
	Torque   float64 // N·m
	Raw      []float64
	Filtered []float64
}

// Pipeline runs decode output through filtering, the muscle model and the
// joint dynamics, and keeps the history in a telemetry buffer. It is owned
// by a single goroutine; only the buffer may be read concurrently.
type Pipeline struct {
	cfg     *Config
	model   muscle.TorqueProvider
	buffer  *telemetry.RingBuffer
	bufCap  int // capacity kept across resets
	calib   *Calibrator
	log     *slog.Logger
	metrics *Metrics

	mvc []float64

	channels int // -1 until the first frame
	bank     *filters.Bank
	dyn      *dynamics.Integrator

	started bool
	lastTS  int64
	elapsed int64 // unwrapped microseconds since the first frame

	counterSet bool
	counter    int64

	raw, filtered, row []float64
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTorqueProvider replaces the model selected by the config.
func WithTorqueProvider(tp muscle.TorqueProvider) PipelineOption {
	return func(p *Pipeline) { p.model = tp }
}

// WithBuffer makes the pipeline write into b. Resets change its width to
// match the channel count but keep the capacity b was created with.
func WithBuffer(b *telemetry.RingBuffer) PipelineOption {
	return func(p *Pipeline) {
		p.buffer = b
		p.bufCap = b.Capacity()
	}
}

// NewModel builds the torque provider selected by cfg.
func NewModel(cfg ModelConfig) (muscle.TorqueProvider, error) {
	switch cfg.Kind {
	case "proportional":
		return muscle.ProportionalModel{Gain: cfg.Gain}, nil
	case "hill", "":
		return muscle.NewWristModel(cfg.Wrist)
	}
	return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, cfg.Kind)
}

func NewPipeline(cfg *Config, opts ...PipelineOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		mvc:      append([]float64(nil), cfg.Filter.MVC...),
		channels: -1,
		log:      NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.model == nil {
		m, err := NewModel(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("muscle model: %w", err)
		}
		p.model = m
	}
	if p.buffer == nil {
		p.bufCap = cfg.Telemetry.Capacity
		p.buffer = telemetry.NewRingBuffer(0, p.bufCap)
	}
	if cfg.Calibration.Enabled {
		frames := int(cfg.Calibration.Duration.Seconds() * cfg.SampleRate)
		p.calib = NewCalibrator(frames, cfg.Calibration.Floor)
		p.calib.Restart(0)
	}

	// fail on bad coefficients now rather than on the first frame
	if _, err := filters.NewBank(cfg.Filter.ChainSpec, p.mvc, 1); err != nil {
		return nil, fmt.Errorf("filter chain: %w", err)
	}
	return p, nil
}

// Buffer returns the telemetry buffer, safe for concurrent snapshots.
func (p *Pipeline) Buffer() *telemetry.RingBuffer {
	return p.buffer
}

// Channels returns the current channel count, or -1 before the first frame.
func (p *Pipeline) Channels() int {
	return p.channels
}

// MVC returns the normalization levels per channel.
func (p *Pipeline) MVC() []float64 {
	return append([]float64(nil), p.mvc...)
}

// Angle returns the current joint angle in degrees.
func (p *Pipeline) Angle() float64 {
	if p.dyn == nil {
		return 0
	}
	return p.dyn.Angle()
}

// Calibrate starts an MVC measurement over the next frames.
func (p *Pipeline) Calibrate(d time.Duration) {
	frames := int(d.Seconds() * p.cfg.SampleRate)
	p.calib = NewCalibrator(frames, p.cfg.Calibration.Floor)
	p.calib.Restart(max(p.channels, 0))
}

// Calibrating reports whether an MVC measurement is running.
func (p *Pipeline) Calibrating() bool {
	return p.calib != nil && p.calib.Active()
}

// Reset rebuilds all per-session state for n channels: filters, dynamics,
// the telemetry buffer and the time origin.
func (p *Pipeline) Reset(n int) error {
	bank, err := filters.NewBank(p.cfg.Filter.ChainSpec, p.mvc, n)
	if err != nil {
		return fmt.Errorf("filter bank: %w", err)
	}
	dyn, err := dynamics.New(p.cfg.DynamicsConfig())
	if err != nil {
		return fmt.Errorf("dynamics: %w", err)
	}

	p.bank = bank
	p.dyn = dyn
	p.channels = n
	p.buffer.Resize(n+1, p.bufCap)
	p.started = false
	p.elapsed = 0
	p.counterSet = false
	p.raw = make([]float64, n)
	p.filtered = make([]float64, n)
	p.row = make([]float64, n+1)
	if p.calib != nil && p.calib.Active() {
		p.calib.Restart(n)
	}

	p.metrics.Resets.Inc(1)
	p.log.Info("pipeline reset", "channels", n)
	return nil
}

// Process runs one frame through the pipeline. A frame with a different
// channel count than the previous one resets all state first.
func (p *Pipeline) Process(f Frame) (Sample, error) {
	start := time.Now()
	n := len(f.Samples)
	if n != p.channels {
		if err := p.Reset(n); err != nil {
			return Sample{}, err
		}
	}

	p.checkCounter(f)
	t := p.advanceClock(f.Timestamp)

	p.raw = f.Float64s(p.raw)
	p.bank.Process(p.raw, p.filtered)
	p.observeCalibration()

	angleRad := p.dyn.Angle() * math.Pi / 180
	torque := p.model.Torque(angleRad, p.channel(p.cfg.Model.FlexorChannel), p.channel(p.cfg.Model.ExtensorChannel))
	angle := p.dyn.Update(torque)

	copy(p.row, p.filtered)
	p.row[n] = angle
	p.buffer.Push(t, p.row)

	p.metrics.Frames.Inc(1)
	p.metrics.Rate.Mark(1)
	p.metrics.Angle.Update(angle)
	p.metrics.Process.UpdateSince(start)

	return Sample{
		Time:     t,
		Angle:    angle,
		Torque:   torque,
		Raw:      p.raw,
		Filtered: p.filtered,
	}, nil
}

func (p *Pipeline) channel(i int) float64 {
	if i < len(p.filtered) {
		return p.filtered[i]
	}
	return 0
}

// advanceClock converts a device timestamp to seconds since the session
// start. The device counter is 32 bits wide, so deltas are taken modulo 2³².
func (p *Pipeline) advanceClock(ts int64) float64 {
	if !p.started {
		p.started = true
		p.lastTS = ts
		return 0
	}
	p.elapsed += int64(int32(uint32(ts) - uint32(p.lastTS)))
	p.lastTS = ts
	return float64(p.elapsed) * 1e-6
}

func (p *Pipeline) checkCounter(f Frame) {
	if !p.cfg.TestCounter || len(f.Samples) == 0 {
		return
	}
	v := int64(f.Samples[0])
	if p.counterSet && v != p.counter+1 {
		missed := v - p.counter - 1
		p.metrics.MissedFrames.Inc(missed)
		p.log.Warn("missed frames", "count", missed, "counter", v)
	}
	p.counter = v
	p.counterSet = true
}

func (p *Pipeline) observeCalibration() {
	if p.calib == nil {
		return
	}
	levels := p.calib.Observe(p.bank)
	if levels == nil {
		return
	}
	for i, level := range levels {
		if level <= 0 {
			p.log.Warn("calibration saw no contraction", "channel", i)
			continue
		}
		for len(p.mvc) <= i {
			p.mvc = append(p.mvc, 1)
		}
		p.mvc[i] = level
		p.bank.Chain(i).SetMVC(level)
	}
	p.log.Info("calibration locked", "mvc", p.mvc)
}

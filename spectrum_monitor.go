package uscope

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// MainsReport is the interference estimate of one raw channel.
type MainsReport struct {
	Channel int
	Mains   float64 // average power at the mains frequency
	Floor   float64 // median bin power
	Ratio   float64 // Mains / Floor
	Peak    float64 // strongest frequency in Hz
}

// Alert reports whether the mains component exceeds threshold.
func (r MainsReport) Alert(threshold float64) bool {
	return r.Ratio > threshold
}

// MainsMonitor watches the raw channels for mains pickup in the background.
// Samples arrive through Push; analysis runs on its own goroutine every
// Interval so the pipeline never waits for an FFT.
type MainsMonitor struct {
	cfg        MonitorConfig
	sampleRate float64
	analyzer   *SpectrumAnalyzer
	span       int

	in    chan []float64
	rings [][]float64
	pos   int
	fill  int
	order []float64

	OnReport func(MainsReport)
	log      *slog.Logger
	metrics  *Metrics
}

func NewMainsMonitor(sampleRate float64, cfg MonitorConfig, log *slog.Logger, m *Metrics) *MainsMonitor {
	if log == nil {
		log = NopLogger()
	}
	a := NewSpectrumAnalyzer(sampleRate, cfg.FFTSize)
	span := a.Span(cfg.Segments)
	return &MainsMonitor{
		cfg:        cfg,
		sampleRate: sampleRate,
		analyzer:   a,
		span:       span,
		in:         make(chan []float64, 1024),
		order:      make([]float64, span),
		log:        log,
		metrics:    m,
	}
}

// Push hands one frame of raw values to the monitor. It never blocks: when
// the monitor lags the frame is skipped.
func (m *MainsMonitor) Push(raw []float64) {
	select {
	case m.in <- append([]float64(nil), raw...):
	default:
	}
}

// Run consumes pushed samples and analyzes them until ctx is done.
func (m *MainsMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-m.in:
			m.store(raw)
		case <-ticker.C:
			for _, r := range m.Analyze() {
				m.report(r)
			}
		}
	}
}

// store appends one frame; a new channel count restarts the history.
func (m *MainsMonitor) store(raw []float64) {
	if len(raw) != len(m.rings) {
		m.rings = make([][]float64, len(raw))
		for i := range m.rings {
			m.rings[i] = make([]float64, m.span)
		}
		m.pos, m.fill = 0, 0
	}
	for c, v := range raw {
		m.rings[c][m.pos] = v
	}
	m.pos = (m.pos + 1) % m.span
	m.fill = min(m.fill+1, m.span)
}

// Analyze returns one report per channel once enough history is stored.
func (m *MainsMonitor) Analyze() []MainsReport {
	if m.fill < m.span {
		return nil
	}
	reports := make([]MainsReport, 0, len(m.rings))
	g := NewGoertzel(m.sampleRate, m.cfg.MainsFrequency)
	for c, ring := range m.rings {
		// oldest first
		n := copy(m.order, ring[m.pos:])
		copy(m.order[n:], ring[:m.pos])

		psd := m.analyzer.Welch(m.order)
		var mains float64
		segments := m.analyzer.Segments(m.order, func(seg []float64) {
			g.Reset()
			g.ProcessBlock(seg)
			mains += g.Power()
		})
		mains /= float64(segments)

		floor := math.Max(NoiseFloor(psd), 1e-12)
		peak, _ := m.analyzer.Peak(psd, m.analyzer.BinWidth(), m.sampleRate/2)
		reports = append(reports, MainsReport{
			Channel: c,
			Mains:   mains,
			Floor:   floor,
			Ratio:   mains / floor,
			Peak:    peak,
		})
	}
	return reports
}

func (m *MainsMonitor) report(r MainsReport) {
	if r.Alert(m.cfg.Threshold) {
		if m.metrics != nil {
			m.metrics.MainsAlerts.Inc(1)
		}
		m.log.Warn("mains interference", "channel", r.Channel, "ratio", r.Ratio, "peak_hz", r.Peak)
	} else {
		m.log.Debug("mains level", "channel", r.Channel, "ratio", r.Ratio, "peak_hz", r.Peak)
	}
	if m.OnReport != nil {
		m.OnReport(r)
	}
}

package uscope

import (
	"fmt"
	"log/slog"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics counts what flows through the pipeline.
type Metrics struct {
	Registry gometrics.Registry

	Frames       gometrics.Counter
	Resets       gometrics.Counter
	Garbage      gometrics.Counter // bytes discarded by the frame decoder
	Dropped      gometrics.Counter // frames the source could not queue
	BadReports   gometrics.Counter
	MissedFrames gometrics.Counter // gaps in the test counter
	MainsAlerts  gometrics.Counter
	Rate         gometrics.Meter
	Process      gometrics.Timer
	Angle        gometrics.GaugeFloat64
}

// NewMetrics registers the pipeline metrics in r, or in a fresh registry
// when r is nil.
func NewMetrics(r gometrics.Registry) *Metrics {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &Metrics{
		Registry:     r,
		Frames:       gometrics.NewRegisteredCounter("pipeline.frames", r),
		Resets:       gometrics.NewRegisteredCounter("pipeline.resets", r),
		Garbage:      gometrics.NewRegisteredCounter("decoder.garbage", r),
		Dropped:      gometrics.NewRegisteredCounter("source.dropped", r),
		BadReports:   gometrics.NewRegisteredCounter("source.bad_reports", r),
		MissedFrames: gometrics.NewRegisteredCounter("pipeline.missed", r),
		MainsAlerts:  gometrics.NewRegisteredCounter("monitor.alerts", r),
		Rate:         gometrics.NewRegisteredMeter("pipeline.rate", r),
		Process:      gometrics.NewRegisteredTimer("pipeline.process", r),
		Angle:        gometrics.NewRegisteredGaugeFloat64("dynamics.angle", r),
	}
}

// Stop releases the meter and timer tickers.
func (m *Metrics) Stop() {
	m.Rate.Stop()
	m.Process.Stop()
}

// LogAttrs summarizes the metrics for a periodic stats line.
func (m *Metrics) LogAttrs() []any {
	p := m.Process.Snapshot()
	return []any{
		slog.Int64("frames", m.Frames.Count()),
		slog.String("rate", fmt.Sprintf("%.1f/s", m.Rate.Snapshot().Rate1())),
		slog.Int64("resets", m.Resets.Count()),
		slog.Int64("garbage", m.Garbage.Count()),
		slog.Int64("dropped", m.Dropped.Count()),
		slog.Int64("missed", m.MissedFrames.Count()),
		slog.Duration("p99", time.Duration(p.Percentile(0.99))),
		slog.Float64("angle", m.Angle.Snapshot().Value()),
	}
}

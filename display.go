package uscope

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"uscope/telemetry"
)

const (
	clearScreen = "\033[2J\033[H"
	sparks      = " ▁▂▃▄▅▆▇█"
)

// Display draws the telemetry buffer on a terminal. It reads snapshots on
// its own schedule and never redraws faster than FrameTime.
type Display struct {
	w         io.Writer
	buffer    *telemetry.RingBuffer
	frameTime time.Duration
	width     int
	limits    [2]float64 // joint range in degrees
}

func NewDisplay(w io.Writer, buffer *telemetry.RingBuffer, cfg DisplayConfig, angleMin, angleMax float64) *Display {
	return &Display{
		w:         w,
		buffer:    buffer,
		frameTime: cfg.FrameTime,
		width:     max(cfg.Width, 10),
		limits:    [2]float64{angleMin, angleMax},
	}
}

// Run redraws until ctx is done.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(d.frameTime)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s := d.buffer.Snapshot()
		if s.Count == last {
			continue
		}
		last = s.Count
		fmt.Fprint(d.w, clearScreen+d.Render(s))
	}
}

// Render formats a snapshot whose last column is the joint angle.
func (d *Display) Render(s telemetry.Snapshot) string {
	var b strings.Builder
	if s.Len() == 0 || len(s.Columns) == 0 {
		b.WriteString("waiting for data...\n")
		return b.String()
	}

	fmt.Fprintf(&b, "t = %.3f s   samples = %d\n\n", s.Time[s.Len()-1], s.Count)
	channels := s.Columns[:len(s.Columns)-1]
	for i, col := range channels {
		fmt.Fprintf(&b, "ch%-2d %8.4f  min %8.4f  max %8.4f  mean %8.4f  %s\n",
			i, col[len(col)-1], floats.Min(col), floats.Max(col),
			floats.Sum(col)/float64(len(col)), sparkline(col, d.width))
	}

	angle := s.Columns[len(s.Columns)-1]
	current := angle[len(angle)-1]
	fmt.Fprintf(&b, "\nangle %7.2f°  %s\n", current, d.angleBar(current))
	return b.String()
}

// angleBar places a marker for angle on a bar spanning the joint range.
func (d *Display) angleBar(angle float64) string {
	lo, hi := d.limits[0], d.limits[1]
	pos := int((angle - lo) / (hi - lo) * float64(d.width-1))
	pos = min(max(pos, 0), d.width-1)
	bar := []rune(strings.Repeat("─", d.width))
	bar[(d.width-1)/2] = '┼'
	bar[pos] = '●'
	return "[" + string(bar) + "]"
}

// sparkline draws the last width values scaled to their own range.
func sparkline(values []float64, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := floats.Min(values), floats.Max(values)
	levels := []rune(sparks)
	out := make([]rune, len(values))
	for i, v := range values {
		k := 0
		if hi > lo {
			k = int((v - lo) / (hi - lo) * float64(len(levels)-1))
		}
		out[i] = levels[min(max(k, 0), len(levels)-1)]
	}
	return string(out)
}

package uscope

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// HIDReportSize is the size of one input report of the USB-HID firmware.
const HIDReportSize = 64

var (
	ErrEmptyReport = errors.New("hid: empty report")
	ErrShortReport = errors.New("hid: report shorter than its channel count")
)

// ParseHIDReport decodes one report:
//
//	N | uint32 LE micros | N x float32 LE
//
// Bytes after the payload are padding.
func ParseHIDReport(report []byte) (Frame, error) {
	if len(report) == 0 {
		return Frame{}, ErrEmptyReport
	}
	n := int(report[0])
	need := 1 + 4 + 4*n
	if len(report) < need {
		return Frame{}, fmt.Errorf("%w: %d channels need %d bytes, got %d", ErrShortReport, n, need, len(report))
	}

	f := Frame{
		Timestamp: int64(binary.LittleEndian.Uint32(report[1:5])),
		Channels:  uint8(n),
		Samples:   make([]float32, n),
	}
	for i := range f.Samples {
		off := 5 + 4*i
		f.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(report[off : off+4]))
	}
	return f, nil
}

// HIDDevice is an open report stream; each Read returns one report.
type HIDDevice interface {
	io.ReadCloser
}

// HIDSource reads reports from a Linux hidraw node.
type HIDSource struct {
	Path       string
	ReportSize int
	// Poll bounds each read so cancellation is noticed.
	Poll    time.Duration
	Log     *slog.Logger
	Metrics *Metrics

	// Open defaults to opening Path read-only.
	Open func(path string) (HIDDevice, error)
}

func openHIDRaw(path string) (HIDDevice, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

func (s *HIDSource) Run(ctx context.Context, out chan<- Frame) error {
	open := s.Open
	if open == nil {
		open = openHIDRaw
	}
	log := s.Log
	if log == nil {
		log = NopLogger()
	}
	size := s.ReportSize
	if size <= 0 {
		size = HIDReportSize
	}
	poll := s.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	dev, err := open(s.Path)
	if err != nil {
		return fmt.Errorf("open hid device %s: %w", s.Path, err)
	}
	var once sync.Once
	closeDev := func() { once.Do(func() { dev.Close() }) }
	defer closeDev()
	// devices without deadlines are unblocked by closing them
	stop := context.AfterFunc(ctx, closeDev)
	defer stop()

	dl, canDeadline := dev.(interface{ SetReadDeadline(time.Time) error })
	buf := make([]byte, size)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if canDeadline {
			if err := dl.SetReadDeadline(time.Now().Add(poll)); err != nil {
				canDeadline = false
			}
		}

		n, err := dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("read hid device %s: %w", s.Path, err)
		}

		f, err := ParseHIDReport(buf[:n])
		if errors.Is(err, ErrEmptyReport) {
			continue
		}
		if err != nil {
			if s.Metrics != nil {
				s.Metrics.BadReports.Inc(1)
			}
			log.Debug("bad hid report", "err", err)
			continue
		}
		if err := emit(ctx, out, f); err != nil {
			return err
		}
	}
}

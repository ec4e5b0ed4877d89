package uscope

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"uscope/telemetry"
)

// sliceSource emits its frames, then either ends with err or waits for
// cancellation.
type sliceSource struct {
	frames []Frame
	block  bool
	err    error
}

func (s *sliceSource) Run(ctx context.Context, out chan<- Frame) error {
	for _, f := range s.frames {
		if err := emit(ctx, out, f); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func testFrames(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = frame(int64(i*1000), float32(i)/float32(n), 0.5)
	}
	return frames
}

func systemConfig() *Config {
	cfg := rawConfig()
	cfg.Stats.Interval = 0
	cfg.Telemetry.Capacity = 50
	return cfg
}

func waitTimeout(t *testing.T, s *System) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Wait() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSystemProcessesAllFrames(t *testing.T) {
	dir := t.TempDir()
	cfg := systemConfig()
	cfg.Telemetry.CSV = filepath.Join(dir, "samples.csv")
	cfg.Record.WAV = filepath.Join(dir, "raw.wav")

	sys, err := NewSystem(cfg, &sliceSource{frames: testFrames(30)})
	require.NoError(t, err)
	var seen atomic.Int64
	sys.OnSample = func(Sample) { seen.Add(1) }

	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, waitTimeout(t, sys))

	require.Equal(t, int64(30), seen.Load())
	require.Equal(t, int64(30), sys.Metrics().Frames.Count())
	require.Equal(t, 30, sys.Buffer().Count())
	select {
	case <-sys.Done():
	default:
		t.Fatal("done not closed")
	}

	f, err := os.Open(cfg.Telemetry.CSV)
	require.NoError(t, err)
	defer f.Close()
	snap, err := telemetry.ReadCSV(f)
	require.NoError(t, err)
	require.Equal(t, 30, snap.Len())
	require.Len(t, snap.Columns, 3)
	require.InDelta(t, 0.029, snap.Time[29], 1e-9)
	require.InDelta(t, 0.5, snap.Columns[1][0], 1e-9)

	r, err := NewWavReader(cfg.Record.WAV)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, r.Channels)
	require.Equal(t, 1000, r.SampleRate)
	samples, err := r.ReadFrames(100)
	require.NoError(t, err)
	require.Len(t, samples, 60)
	require.Equal(t, float32(0.5), samples[1])
}

func TestSystemStopIsClean(t *testing.T) {
	sys, err := NewSystem(systemConfig(), &sliceSource{frames: testFrames(5), block: true})
	require.NoError(t, err)
	require.NoError(t, sys.Start(context.Background()))

	require.Eventually(t, func() bool {
		return sys.Metrics().Frames.Count() == 5
	}, 2*time.Second, time.Millisecond)

	require.True(t, sys.Calibrate(10*time.Millisecond))
	require.True(t, sys.Reset())

	require.NoError(t, sys.Stop())
	require.False(t, sys.Calibrate(time.Second), "no session to calibrate")
	require.Error(t, sys.Start(context.Background()))
}

func TestSystemReportsSourceError(t *testing.T) {
	boom := errors.New("cable pulled")
	sys, err := NewSystem(systemConfig(), &sliceSource{frames: testFrames(3), err: boom})
	require.NoError(t, err)
	require.NoError(t, sys.Start(context.Background()))
	err = waitTimeout(t, sys)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(3), sys.Metrics().Frames.Count())
}

func TestSystemParentCancel(t *testing.T) {
	sys, err := NewSystem(systemConfig(), &sliceSource{block: true})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sys.Start(ctx))
	cancel()
	require.NoError(t, waitTimeout(t, sys))
}

func TestSystemReplaysCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	var data []byte
	for i := range 40 {
		data = append(data, encodeFrame(int32(i*1000), 0.25, float32(i%2))...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg := systemConfig()
	cfg.Source.Kind = "replay"
	cfg.Source.File = path
	cfg.Monitor.Enabled = false

	sys, err := NewSystem(cfg, nil)
	require.NoError(t, err)
	require.Nil(t, sys.Monitor())
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, waitTimeout(t, sys))

	snap := sys.Buffer().Snapshot()
	require.Equal(t, 40, snap.Count)
	require.Equal(t, 40, snap.Len())
	require.InDelta(t, 0.039, snap.Time[39], 1e-9)
	require.InDelta(t, 0.25, snap.Columns[0][39], 1e-9)
}

func TestSystemRecordsNewFilesOnChannelChange(t *testing.T) {
	dir := t.TempDir()
	cfg := systemConfig()
	cfg.Telemetry.CSV = filepath.Join(dir, "samples.csv")
	cfg.Record.WAV = filepath.Join(dir, "raw.wav")

	var frames []Frame
	for i := range 5 {
		frames = append(frames, frame(int64(i*1000), 0.1, 0.2))
	}
	for i := range 4 {
		frames = append(frames, frame(int64(500_000+i*1000), 0.3, 0.4, 0.5))
	}
	sys, err := NewSystem(cfg, &sliceSource{frames: frames})
	require.NoError(t, err)
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, waitTimeout(t, sys))

	readCSV := func(name string) telemetry.Snapshot {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err)
		defer f.Close()
		snap, err := telemetry.ReadCSV(f)
		require.NoError(t, err)
		return snap
	}
	first := readCSV("samples.csv")
	require.Equal(t, 5, first.Len())
	require.Len(t, first.Columns, 3)
	second := readCSV("samples-2.csv")
	require.Equal(t, 4, second.Len())
	require.Len(t, second.Columns, 4)
	require.Equal(t, 0.0, second.Time[0])
	require.InDelta(t, 0.003, second.Time[3], 1e-9)
	require.InDelta(t, 0.5, second.Columns[2][0], 1e-6)

	readWAV := func(name string) (int, []float32) {
		r, err := NewWavReader(filepath.Join(dir, name))
		require.NoError(t, err)
		defer r.Close()
		samples, err := r.ReadFrames(100)
		require.NoError(t, err)
		return r.Channels, samples
	}
	ch, samples := readWAV("raw.wav")
	require.Equal(t, 2, ch)
	require.Len(t, samples, 10)
	ch, samples = readWAV("raw-2.wav")
	require.Equal(t, 3, ch)
	require.Len(t, samples, 12)
	require.Equal(t, float32(0.5), samples[2])
}

func TestSystemControlFromSampleCallback(t *testing.T) {
	sys, err := NewSystem(systemConfig(), &sliceSource{frames: testFrames(10)})
	require.NoError(t, err)
	var (
		n                    int
		calibrated, wasReset bool
	)
	sys.OnSample = func(Sample) {
		n++
		switch n {
		case 3:
			calibrated = sys.Calibrate(time.Millisecond)
		case 5:
			wasReset = sys.Reset()
		}
	}
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, waitTimeout(t, sys))

	require.Equal(t, 10, n)
	require.True(t, calibrated)
	require.True(t, wasReset)
	require.Equal(t, int64(2), sys.Metrics().Resets.Count())
	// the reset ran before the sixth frame
	require.Equal(t, 5, sys.Buffer().Count())
}

func TestSystemControlBeforeStart(t *testing.T) {
	sys, err := NewSystem(systemConfig(), &sliceSource{})
	require.NoError(t, err)
	require.False(t, sys.Reset())
}

func TestSegmentPath(t *testing.T) {
	require.Equal(t, "out/samples.csv", segmentPath("out/samples.csv", 1))
	require.Equal(t, "out/samples-3.csv", segmentPath("out/samples.csv", 3))
	require.Equal(t, "capture-2", segmentPath("capture", 2))
}

func TestSampleColumns(t *testing.T) {
	require.Equal(t, []string{"Channel 0", "Channel 1", "angle [deg]"}, SampleColumns(2))
}

package uscope

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// AudioSource captures EMG from a sound-card front end, one channel per
// audio channel. The device clock has no timestamps, so they are derived
// from the frame count.
//
// The capture callback must not block, so frames that do not fit in the
// queue are dropped and counted. Drops never reorder frames.
type AudioSource struct {
	DeviceName string
	SampleRate int
	Channels   int

	log     *slog.Logger
	metrics *Metrics

	out     chan<- Frame
	index   int64
	dropped atomic.Uint64
}

func NewAudioSource(device string, sampleRate, channels int, log *slog.Logger, m *Metrics) *AudioSource {
	if channels <= 0 {
		channels = 2
	}
	if log == nil {
		log = NopLogger()
	}
	return &AudioSource{
		DeviceName: device,
		SampleRate: sampleRate,
		Channels:   channels,
		log:        log,
		metrics:    m,
	}
}

// Dropped returns the number of frames lost to a full queue.
func (a *AudioSource) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *AudioSource) Run(ctx context.Context, out chan<- Frame) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(a.Channels)
	cfg.SampleRate = uint32(a.SampleRate)
	cfg.Alsa.NoMMap = 1

	if a.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return fmt.Errorf("list capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(a.DeviceName)) {
				cfg.Capture.DeviceID = info.ID.Pointer()
				a.log.Info("audio device selected", "name", info.Name())
				found = true
				break
			}
		}
		if !found {
			a.log.Warn("audio device not found, using default", "name", a.DeviceName)
		}
	}

	a.out = out
	a.index = 0
	onRecv := func(_, in []byte, frameCount uint32) {
		if len(in) == 0 {
			return
		}
		n := int(frameCount) * a.Channels
		a.deliver(unsafe.Slice((*float32)(unsafe.Pointer(&in[0])), n))
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	defer dev.Uninit()

	a.log.Info("audio capture started", "rate", dev.SampleRate(), "channels", a.Channels)
	if err := dev.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	<-ctx.Done()
	_ = dev.Stop()
	a.log.Info("audio capture stopped", "dropped", a.Dropped())
	return ctx.Err()
}

// deliver splits interleaved samples into frames and queues them.
func (a *AudioSource) deliver(interleaved []float32) {
	ch := a.Channels
	for i := 0; i+ch <= len(interleaved); i += ch {
		f := Frame{
			Timestamp: a.index * 1_000_000 / int64(a.SampleRate),
			Channels:  uint8(ch),
			Samples:   append([]float32(nil), interleaved[i:i+ch]...),
		}
		a.index++
		select {
		case a.out <- f:
		default:
			a.dropped.Add(1)
			if a.metrics != nil {
				a.metrics.Dropped.Inc(1)
			}
		}
	}
}

package uscope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"uscope/dynamics"
	"uscope/filters"
	"uscope/muscle"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config collects every tunable of the simulator. DefaultConfig gives a
// working setup for the 750 Hz two-channel EMG board.
type Config struct {
	SampleRate float64 `yaml:"sample_rate"` // Hz

	Log         LogConfig         `yaml:"log"`
	Source      SourceConfig      `yaml:"source"`
	Filter      FilterConfig      `yaml:"filter"`
	Model       ModelConfig       `yaml:"model"`
	Dynamics    dynamics.Config   `yaml:"dynamics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Display     DisplayConfig     `yaml:"display"`
	Record      RecordConfig      `yaml:"record"`
	Stats       StatsConfig       `yaml:"stats"`

	// TestCounter means channel 0 carries a frame counter from test
	// firmware; gaps are reported as missed frames.
	TestCounter bool `yaml:"test_counter"`
}

type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	Console    bool   `yaml:"console"`
	Filename   string `yaml:"filename"` // empty: no log file
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

type SourceConfig struct {
	Kind string `yaml:"kind"` // serial, hid, audio, replay, wav

	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	HIDPath    string `yaml:"hid_path"`
	ReportSize int    `yaml:"report_size"`

	AudioDevice   string `yaml:"audio_device"`
	AudioChannels int    `yaml:"audio_channels"`

	// File is the capture replayed by the replay and wav sources.
	File string `yaml:"file"`
	// Rate paces replay in frames per second; 0 replays as fast as the
	// pipeline consumes.
	Rate float64 `yaml:"rate"`

	SampleOrder string `yaml:"sample_order"` // big or little
	QueueSize   int    `yaml:"queue_size"`
}

// ByteOrder returns the float byte order of the wire protocol.
func (c SourceConfig) ByteOrder() binary.ByteOrder {
	if strings.EqualFold(c.SampleOrder, "little") {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

type FilterConfig struct {
	filters.ChainSpec `yaml:",inline"`
	// MVC is the normalization level per channel; missing channels use 1.
	MVC []float64 `yaml:"mvc"`
}

type ModelConfig struct {
	Kind  string             `yaml:"kind"` // hill or proportional
	Gain  float64            `yaml:"gain"` // proportional model only
	Wrist muscle.WristConfig `yaml:"wrist"`

	FlexorChannel   int `yaml:"flexor_channel"`
	ExtensorChannel int `yaml:"extensor_channel"`
}

type TelemetryConfig struct {
	Capacity int `yaml:"capacity"` // samples kept for display and export
	// CSV streams every processed sample to this file when set.
	CSV        string `yaml:"csv"`
	BufferSize int    `yaml:"buffer_size"`
}

type CalibrationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Duration time.Duration `yaml:"duration"`
	// Floor is the lowest envelope accepted as an MVC level.
	Floor float64 `yaml:"floor"`
}

type MonitorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MainsFrequency float64       `yaml:"mains_frequency"` // Hz
	FFTSize        int           `yaml:"fft_size"`
	Segments       int           `yaml:"segments"` // Welch segments, 50% overlap
	Interval       time.Duration `yaml:"interval"`
	// Threshold is the mains-to-floor power ratio that raises a warning.
	Threshold float64 `yaml:"threshold"`
}

type DisplayConfig struct {
	Enabled   bool          `yaml:"enabled"`
	FrameTime time.Duration `yaml:"frame_time"`
	Width     int           `yaml:"width"`
}

type RecordConfig struct {
	// WAV records the raw channels as 32-bit float audio when set.
	WAV string `yaml:"wav"`
}

type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the configuration of the two-channel wrist setup.
func DefaultConfig() *Config {
	cfg := &Config{SampleRate: 750}

	cfg.Log.Level = "info"
	cfg.Log.Console = true
	cfg.Log.MaxSize = 10
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAge = 7

	cfg.Source.Kind = "serial"
	cfg.Source.Port = "/dev/ttyACM0"
	cfg.Source.Baud = 115200
	cfg.Source.ReadTimeout = 100 * time.Millisecond
	cfg.Source.HIDPath = "/dev/hidraw0"
	cfg.Source.ReportSize = HIDReportSize
	cfg.Source.AudioChannels = 2
	cfg.Source.SampleOrder = "big"
	cfg.Source.QueueSize = 1024

	cfg.Filter.ChainSpec = filters.DefaultEMGChain()
	cfg.Filter.MVC = []float64{0.18, 0.065}

	// emg 1 (channel 0) drives the extensor, emg 2 the flexor
	cfg.Model.Kind = "hill"
	cfg.Model.Gain = 1
	cfg.Model.Wrist = muscle.DefaultWristConfig()
	cfg.Model.FlexorChannel = 1
	cfg.Model.ExtensorChannel = 0

	// Dt follows SampleRate unless set explicitly
	cfg.Dynamics = dynamics.DefaultConfig(0)

	cfg.Telemetry.Capacity = 200

	cfg.Calibration.Duration = 5 * time.Second
	cfg.Calibration.Floor = 1e-6

	cfg.Monitor.Enabled = true
	cfg.Monitor.MainsFrequency = 50
	cfg.Monitor.FFTSize = 256
	cfg.Monitor.Segments = 4
	cfg.Monitor.Interval = time.Second
	cfg.Monitor.Threshold = 100

	cfg.Display.FrameTime = time.Second / 60
	cfg.Display.Width = 60

	cfg.Stats.Interval = 10 * time.Second
	return cfg
}

// LoadConfig reads a YAML file over the defaults. Keys missing from the file
// keep their default value; lists are replaced as a whole.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Step returns the integration step for one frame.
func (c *Config) Step() time.Duration {
	return time.Duration(float64(time.Second) / c.SampleRate)
}

// DynamicsConfig returns the integrator config with the step filled in.
func (c *Config) DynamicsConfig() dynamics.Config {
	d := c.Dynamics
	if d.Dt == 0 {
		d.Dt = c.Step()
	}
	return d
}

// Validate checks the settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if !(c.SampleRate > 0) {
		return fmt.Errorf("%w: sample_rate %v", ErrInvalidConfig, c.SampleRate)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Source.Kind {
	case "serial", "hid", "audio", "replay", "wav":
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source.Kind)
	}
	switch strings.ToLower(c.Source.SampleOrder) {
	case "", "big", "little":
	default:
		return fmt.Errorf("%w: sample_order %q", ErrInvalidConfig, c.Source.SampleOrder)
	}
	if c.Source.QueueSize < 0 {
		return fmt.Errorf("%w: negative queue_size", ErrInvalidConfig)
	}
	for i, mvc := range c.Filter.MVC {
		if !(mvc > 0) {
			return fmt.Errorf("%w: mvc[%d] = %v", ErrInvalidConfig, i, mvc)
		}
	}
	switch c.Model.Kind {
	case "hill", "proportional":
	default:
		return fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, c.Model.Kind)
	}
	if c.Model.FlexorChannel < 0 || c.Model.ExtensorChannel < 0 {
		return fmt.Errorf("%w: negative muscle channel", ErrInvalidConfig)
	}
	if err := c.DynamicsConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Telemetry.Capacity <= 0 {
		return fmt.Errorf("%w: telemetry capacity %d", ErrInvalidConfig, c.Telemetry.Capacity)
	}
	if c.Calibration.Enabled && c.Calibration.Duration <= 0 {
		return fmt.Errorf("%w: calibration duration %v", ErrInvalidConfig, c.Calibration.Duration)
	}
	if c.Monitor.Enabled {
		m := c.Monitor
		if m.FFTSize < 8 || m.Segments < 1 || m.Interval <= 0 {
			return fmt.Errorf("%w: monitor fft_size %d segments %d interval %v", ErrInvalidConfig, m.FFTSize, m.Segments, m.Interval)
		}
		if !(m.MainsFrequency > 0 && m.MainsFrequency < c.SampleRate/2) {
			return fmt.Errorf("%w: mains frequency %v above Nyquist", ErrInvalidConfig, m.MainsFrequency)
		}
	}
	if c.Display.Enabled && c.Display.FrameTime <= 0 {
		return fmt.Errorf("%w: display frame_time %v", ErrInvalidConfig, c.Display.FrameTime)
	}
	return nil
}

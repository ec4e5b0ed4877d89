package uscope

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// SerialPort is the subset of a serial port the source needs.
type SerialPort interface {
	io.ReadWriteCloser
}

// OpenPortFunc opens a serial port.
type OpenPortFunc func(name string, baud int, readTimeout time.Duration) (SerialPort, error)

func openSerialPort(name string, baud int, readTimeout time.Duration) (SerialPort, error) {
	return serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
}

// SerialSource reads the framed protocol from a USB serial port. Reads
// time out so a cancelled context is noticed within one ReadTimeout.
type SerialSource struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration

	open OpenPortFunc
	opts []StreamOption
}

func NewSerialSource(port string, baud int, readTimeout time.Duration, opts ...StreamOption) *SerialSource {
	if baud <= 0 {
		baud = 115200
	}
	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}
	return &SerialSource{
		Port:        port,
		BaudRate:    baud,
		ReadTimeout: readTimeout,
		open:        openSerialPort,
		opts:        opts,
	}
}

// WithOpener replaces the function used to open the port.
func (s *SerialSource) WithOpener(open OpenPortFunc) *SerialSource {
	s.open = open
	return s
}

func (s *SerialSource) Run(ctx context.Context, out chan<- Frame) error {
	port, err := s.open(s.Port, s.BaudRate, s.ReadTimeout)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.Port, err)
	}
	defer port.Close()

	// start from a clean buffer, stale bytes belong to an old session
	if f, ok := port.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}

	opts := append([]StreamOption{WithStreamName(s.Port), WithEOFIdle()}, s.opts...)
	return NewStreamSource(port, opts...).Run(ctx, out)
}

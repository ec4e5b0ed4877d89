package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"uscope"
	"uscope/telemetry"
)

var (
	configPath  string
	logLevel    string
	exportCSV   string
	streamCSV   string
	recordWAV   string
	calibrate   time.Duration
	showDisplay bool
	replayRate  float64
	sampleOrder string
	baudRate    int
	interactive bool
)

var rootCmd = &cobra.Command{
	Use:   "uscope",
	Short: "Drive a simulated wrist from live EMG",
	Long: `uscope reads EMG frames from a serial, HID, audio or recorded source,
filters them into muscle activations and integrates the resulting wrist
torque into a joint angle.

Without a subcommand the source configured in --config is used.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runSession(cmd, cfg)
	},
}

var serialCmd = &cobra.Command{
	Use:   "serial [port]",
	Short: "Read frames from a serial port",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Source.Kind = "serial"
		if len(args) > 0 {
			cfg.Source.Port = args[0]
		}
		if cmd.Flags().Changed("baud") {
			cfg.Source.Baud = baudRate
		}
		return runSession(cmd, cfg)
	},
}

var hidCmd = &cobra.Command{
	Use:   "hid [path]",
	Short: "Read reports from a hidraw device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Source.Kind = "hid"
		if len(args) > 0 {
			cfg.Source.HIDPath = args[0]
		}
		return runSession(cmd, cfg)
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio [device]",
	Short: "Capture EMG from a sound card",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Source.Kind = "audio"
		if len(args) > 0 {
			cfg.Source.AudioDevice = args[0]
		}
		return runSession(cmd, cfg)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay a raw capture or a WAV recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Source.Kind = "replay"
		cfg.Source.File = args[0]
		if cmd.Flags().Changed("rate") {
			cfg.Source.Rate = replayRate
		}
		return runSession(cmd, cfg)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Print the frames of a raw capture as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return decodeFile(args[0], cmd.OutOrStdout(), cfg.Source)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&sampleOrder, "order", "", "float byte order of the wire protocol (big, little)")
	pf.StringVar(&exportCSV, "csv", "", "export the telemetry window to this file at exit")
	pf.StringVar(&streamCSV, "log-csv", "", "stream every sample to this file")
	pf.StringVar(&recordWAV, "record", "", "record the raw channels to this WAV file")
	pf.DurationVar(&calibrate, "calibrate", 0, "measure MVC for this long at start")
	pf.BoolVarP(&showDisplay, "display", "d", false, "draw the signals in the terminal")
	pf.BoolVarP(&interactive, "interactive", "i", false, "read commands from stdin (calibrate, reset, quit)")

	serialCmd.Flags().IntVarP(&baudRate, "baud", "b", 115200, "baud rate")
	replayCmd.Flags().Float64Var(&replayRate, "rate", 0, "frames per second, 0 for as fast as possible")

	rootCmd.AddCommand(serialCmd, hidCmd, audioCmd, replayCmd, decodeCmd)
}

func loadConfig(cmd *cobra.Command) (*uscope.Config, error) {
	cfg := uscope.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = uscope.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("order") {
		cfg.Source.SampleOrder = sampleOrder
	}
	if streamCSV != "" {
		cfg.Telemetry.CSV = streamCSV
	}
	if recordWAV != "" {
		cfg.Record.WAV = recordWAV
	}
	if calibrate > 0 {
		cfg.Calibration.Enabled = true
		cfg.Calibration.Duration = calibrate
	}
	if showDisplay {
		cfg.Display.Enabled = true
		// keep log lines off the drawing
		cfg.Log.Console = false
	}
	return cfg, cfg.Validate()
}

func runSession(cmd *cobra.Command, cfg *uscope.Config) error {
	logger, closer, err := uscope.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := uscope.NewSystem(cfg, nil, uscope.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := sys.Start(ctx); err != nil {
		return err
	}
	if interactive {
		go console(os.Stdin, cmd.OutOrStdout(), sys, cfg.Calibration.Duration, stop)
	}

	runErr := sys.Wait()
	if exportCSV != "" {
		if err := export(exportCSV, sys.Buffer()); err != nil {
			logger.Error("csv export failed", "err", err)
		} else {
			logger.Info("telemetry exported", "file", exportCSV)
		}
	}
	return runErr
}

// console handles commands typed while a session runs.
func console(in io.Reader, out io.Writer, sys *uscope.System, calib time.Duration, quit context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Ready. Commands: calibrate [seconds], reset, quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			quit()
			return
		case "calibrate", "cal":
			d := calib
			if len(fields) > 1 {
				if secs, err := strconv.ParseFloat(fields[1], 64); err == nil && secs > 0 {
					d = time.Duration(secs * float64(time.Second))
				}
			}
			sys.Calibrate(d)
		case "reset":
			sys.Reset()
		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}
	}
}

func export(path string, buffer *telemetry.RingBuffer) error {
	s := buffer.Snapshot()
	if len(s.Columns) == 0 {
		return telemetry.ErrNoData
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := telemetry.WriteCSV(f, s, uscope.SampleColumns(len(s.Columns)-1)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func decodeFile(path string, out io.Writer, sc uscope.SourceConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(out)
	defer w.Flush()

	var line []byte
	dec := uscope.NewFrameDecoder(
		uscope.WithSampleOrder(sc.ByteOrder()),
		uscope.WithFrameHandler(func(fr uscope.Frame) {
			line = strconv.AppendInt(line[:0], fr.Timestamp, 10)
			for _, v := range fr.Samples {
				line = append(line, telemetry.Comma)
				line = strconv.AppendFloat(line, float64(v), 'g', -1, 32)
			}
			line = append(line, '\n')
			w.Write(line)
		}),
	)
	if _, err := io.Copy(dec, f); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d frames, %d garbage bytes\n", dec.Frames(), dec.Garbage())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

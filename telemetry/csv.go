package telemetry

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Comma separates the fields of exported files.
const Comma = ';'

var ErrNoData = errors.New("telemetry: no data recorded yet")

// ChannelHeader returns the column names "Channel 0" .. "Channel n-1".
func ChannelHeader(n int) []string {
	h := make([]string, n)
	for i := range h {
		h[i] = "Channel " + strconv.Itoa(i)
	}
	return h
}

func writeHeader(w io.Writer, columns []string) error {
	_, err := fmt.Fprintf(w, "# %s\n", strings.Join(append([]string{"time [s]"}, columns...), ", "))
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV exports a snapshot: a "# time [s], <columns>" comment line
// followed by one semicolon separated row per sample. An empty snapshot
// returns ErrNoData.
func WriteCSV(w io.Writer, s Snapshot, columns []string) error {
	if s.Len() == 0 {
		return ErrNoData
	}
	if columns == nil {
		columns = ChannelHeader(len(s.Columns))
	}
	if err := writeHeader(w, columns); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = Comma
	row := make([]string, 1+len(s.Columns))
	for i, t := range s.Time {
		row[0] = formatFloat(t)
		for c, col := range s.Columns {
			row[1+c] = formatFloat(col[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file written by WriteCSV or a Recorder.
func ReadCSV(r io.Reader) (Snapshot, error) {
	cr := csv.NewReader(r)
	cr.Comma = Comma
	cr.Comment = '#'
	cr.FieldsPerRecord = 0

	var s Snapshot
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, err
		}
		if s.Columns == nil {
			s.Columns = make([][]float64, len(rec)-1)
		}
		vals := make([]float64, len(rec))
		for i, f := range rec {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Snapshot{}, fmt.Errorf("row %d: %w", len(s.Time)+1, err)
			}
			vals[i] = v
		}
		s.Time = append(s.Time, vals[0])
		for c := range s.Columns {
			s.Columns[c] = append(s.Columns[c], vals[1+c])
		}
	}
	s.Count = len(s.Time)
	return s, nil
}

// Recorder streams every sample to a CSV file. Rows go to a buffer that is
// pushed to disk by Flush, which the owner calls periodically.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
	row  []string
	rows uint64
}

// NewRecorder creates path and writes the header.
func NewRecorder(path string, bufSize int, columns []string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder create %s: %w", path, err)
	}
	if bufSize <= 0 {
		bufSize = 256 * 1024
	}
	bw := bufio.NewWriterSize(f, bufSize)
	if err := writeHeader(bw, columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder header: %w", err)
	}
	cw := csv.NewWriter(bw)
	cw.Comma = Comma

	return &Recorder{
		file: f,
		buf:  bw,
		csv:  cw,
		row:  make([]string, 1+len(columns)),
	}, nil
}

// Record appends one row. Values beyond the header width are dropped and
// missing ones are written as 0.
func (r *Recorder) Record(t float64, values []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.row[0] = formatFloat(t)
	for i := range r.row[1:] {
		v := 0.0
		if i < len(values) {
			v = values[i]
		}
		r.row[1+i] = formatFloat(v)
	}
	_ = r.csv.Write(r.row) // surfaced by Flush
	r.rows++
}

// Flush writes buffered rows to the file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csv.Flush()
	if err := r.csv.Error(); err != nil {
		return err
	}
	return r.buf.Flush()
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	err := r.Flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Rows returns the number of rows recorded, excluding the header.
func (r *Recorder) Rows() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

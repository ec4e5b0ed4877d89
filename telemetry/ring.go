// Package telemetry keeps the recent history of processed samples for
// display and export.
package telemetry

import "sync"

// RingBuffer is a fixed-capacity window of samples in chronological order.
// The newest sample is always at the last index and the buffer is always
// full: rows that were never written hold zeros. Count tells how many rows
// are real.
//
// Push is meant for a single writer. Readers on other goroutines use
// Snapshot or Full, which copy under a read lock.
type RingBuffer struct {
	mu    sync.RWMutex
	width int
	time  []float64
	rows  [][]float64 // rows[i] holds the values of time[i]
	count int
}

// NewRingBuffer allocates a zeroed buffer of capacity rows of width values.
func NewRingBuffer(width, capacity int) *RingBuffer {
	b := &RingBuffer{}
	b.Resize(width, capacity)
	return b
}

// Resize reallocates and zeroes the buffer and resets the sample counter.
// Negative arguments are treated as zero.
func (b *RingBuffer) Resize(width, capacity int) {
	width = max(width, 0)
	capacity = max(capacity, 0)

	backing := make([]float64, width*capacity)
	rows := make([][]float64, capacity)
	for i := range rows {
		rows[i] = backing[i*width : (i+1)*width : (i+1)*width]
	}

	b.mu.Lock()
	b.width = width
	b.time = make([]float64, capacity)
	b.rows = rows
	b.count = 0
	b.mu.Unlock()
}

// Push evicts the oldest sample and appends t with values. Values beyond
// the buffer width are ignored and missing ones are stored as zero.
func (b *RingBuffer) Push(t float64, values []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.time)
	if n == 0 {
		b.count++
		return
	}
	copy(b.time, b.time[1:])
	b.time[n-1] = t

	// rotate row headers; the evicted row becomes the newest
	oldest := b.rows[0]
	copy(b.rows, b.rows[1:])
	b.rows[n-1] = oldest
	m := copy(oldest, values)
	clear(oldest[m:])

	b.count++
}

// Count returns the number of samples pushed since the last Resize.
func (b *RingBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Valid returns how many of the newest rows hold real samples.
func (b *RingBuffer) Valid() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.valid()
}

func (b *RingBuffer) valid() int {
	return min(b.count, len(b.time))
}

func (b *RingBuffer) Width() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width
}

func (b *RingBuffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.time)
}

// Snapshot is a column-major copy of part of a RingBuffer.
type Snapshot struct {
	Time    []float64
	Columns [][]float64 // Columns[c][i] is column c at Time[i]
	Count   int         // samples pushed when the copy was taken
}

// Len returns the number of rows.
func (s Snapshot) Len() int {
	return len(s.Time)
}

// Snapshot copies the valid window, oldest first.
func (b *RingBuffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyFrom(len(b.time) - b.valid())
}

// Full copies the whole buffer including the zero padding.
func (b *RingBuffer) Full() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyFrom(0)
}

func (b *RingBuffer) copyFrom(start int) Snapshot {
	s := Snapshot{
		Time:    append([]float64(nil), b.time[start:]...),
		Columns: make([][]float64, b.width),
		Count:   b.count,
	}
	n := len(s.Time)
	for c := range s.Columns {
		col := make([]float64, n)
		for i := range col {
			col[i] = b.rows[start+i][c]
		}
		s.Columns[c] = col
	}
	return s
}

package registry

import "sync"

// Line is one buffered output entry with its per-terminal sequence number.
type Line struct {
	Seq  uint64 `json:"seq"`
	Data string `json:"data"`
}

// OutputBuffer is a fixed-capacity ring buffer of output lines bound 1:1 to
// a terminal session. Appends assign strictly increasing sequence numbers
// starting at 1; overflow evicts the oldest entry. Eviction is plain index
// arithmetic over a fixed slice.
type OutputBuffer struct {
	lines []Line
	size  int
	head  int
	count int
	seq   uint64
	mu    sync.RWMutex
}

// NewOutputBuffer creates a new output buffer with the given capacity.
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = 1
	}
	return &OutputBuffer{
		lines: make([]Line, size),
		size:  size,
	}
}

// Append adds a new line to the buffer and returns its sequence number.
func (b *OutputBuffer) Append(data string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	idx := (b.head + b.count) % b.size
	if b.count < b.size {
		b.count++
	} else {
		b.head = (b.head + 1) % b.size
	}
	b.lines[idx] = Line{Seq: b.seq, Data: data}

	return b.seq
}

// Last returns the last n lines, oldest first. A non-positive or
// oversized n returns everything held.
func (b *OutputBuffer) Last(n int) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}

	result := make([]Line, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		idx := (b.head + start + i) % b.size
		result[i] = b.lines[idx]
	}
	return result
}

// Len returns the number of lines currently held.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the configured capacity.
func (b *OutputBuffer) Cap() int {
	return b.size
}

// LastSeq returns the most recently assigned sequence number, 0 before the
// first append.
func (b *OutputBuffer) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

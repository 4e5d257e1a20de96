package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBufferSequenceStartsAtOne(t *testing.T) {
	buf := NewOutputBuffer(10)

	assert.Equal(t, uint64(0), buf.LastSeq())
	assert.Equal(t, uint64(1), buf.Append("first"))
	assert.Equal(t, uint64(2), buf.Append("second"))
	assert.Equal(t, uint64(2), buf.LastSeq())
}

func TestOutputBufferEvictsOldest(t *testing.T) {
	buf := NewOutputBuffer(3)

	for i := 1; i <= 5; i++ {
		buf.Append(fmt.Sprintf("line-%d", i))
	}

	assert.Equal(t, 3, buf.Len())

	lines := buf.Last(0)
	require.Len(t, lines, 3)
	assert.Equal(t, "line-3", lines[0].Data)
	assert.Equal(t, "line-5", lines[2].Data)

	// Sequence numbers survive eviction untouched.
	assert.Equal(t, uint64(3), lines[0].Seq)
	assert.Equal(t, uint64(5), lines[2].Seq)
}

func TestOutputBufferLastReturnsOldestFirst(t *testing.T) {
	buf := NewOutputBuffer(10)
	for i := 1; i <= 6; i++ {
		buf.Append(fmt.Sprintf("line-%d", i))
	}

	lines := buf.Last(3)
	require.Len(t, lines, 3)
	assert.Equal(t, "line-4", lines[0].Data)
	assert.Equal(t, "line-5", lines[1].Data)
	assert.Equal(t, "line-6", lines[2].Data)

	for i := 1; i < len(lines); i++ {
		assert.Greater(t, lines[i].Seq, lines[i-1].Seq)
	}
}

func TestOutputBufferOversizedRequest(t *testing.T) {
	buf := NewOutputBuffer(5)
	buf.Append("only")

	lines := buf.Last(100)
	require.Len(t, lines, 1)
	assert.Equal(t, "only", lines[0].Data)
}

func TestOutputBufferEmptyReturnsNothing(t *testing.T) {
	buf := NewOutputBuffer(5)
	assert.Empty(t, buf.Last(10))
	assert.Equal(t, 0, buf.Len())
}

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/termport/termport/internal/common/errors"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events"
	"github.com/termport/termport/internal/events/bus"
)

type fakeCommander struct {
	mu      sync.Mutex
	inputs  map[string][]byte
	resizes map[string][2]int
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		inputs:  make(map[string][]byte),
		resizes: make(map[string][2]int),
	}
}

func (f *fakeCommander) SendInput(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[id] = append(f.inputs[id], data...)
	return nil
}

func (f *fakeCommander) Resize(id string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes[id] = [2]int{cols, rows}
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeCommander, *bus.MemoryEventBus) {
	t.Helper()
	log := logger.Default()
	memBus := bus.NewMemoryEventBus(log)
	cmd := newFakeCommander()
	reg := New(100, cmd, memBus, log)
	return reg, cmd, memBus
}

func TestRegisterAndListCreationOrder(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	idA := reg.Register(TerminalSession{Name: "a", Command: "/bin/bash"})
	idB := reg.Register(TerminalSession{Name: "b", Command: "/bin/zsh"})
	idC := reg.Register(TerminalSession{Name: "c"})

	sessions := reg.List()
	require.Len(t, sessions, 3)
	assert.Equal(t, idA, sessions[0].ID)
	assert.Equal(t, idB, sessions[1].ID)
	assert.Equal(t, idC, sessions[2].ID)
}

func TestRegisterDetectsAgent(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	id := reg.Register(TerminalSession{Command: "claude --continue"})
	sess, err := reg.Get(id)
	require.NoError(t, err)
	assert.True(t, sess.AgentDetected)

	id2 := reg.Register(TerminalSession{Command: "/bin/bash"})
	sess2, err := reg.Get(id2)
	require.NoError(t, err)
	assert.False(t, sess2.AgentDetected)
}

func TestSelectUnknownLeavesActiveUnchanged(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := reg.Register(TerminalSession{Name: "a"})

	require.NoError(t, reg.Select(id))
	assert.Equal(t, id, reg.ActiveID())

	err := reg.Select("does-not-exist")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, id, reg.ActiveID())
}

func TestSelectTransitionsStatus(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	idA := reg.Register(TerminalSession{Name: "a"})
	idB := reg.Register(TerminalSession{Name: "b"})

	require.NoError(t, reg.Select(idA))
	require.NoError(t, reg.Select(idB))

	sessA, err := reg.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, sessA.Status)
	assert.False(t, sessA.Active)

	sessB, err := reg.Get(idB)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sessB.Status)
	assert.True(t, sessB.Active)

	// A crashed terminal keeps its status even when deselected.
	reg.MarkCrashed(idB)
	require.NoError(t, reg.Select(idA))
	sessB, err = reg.Get(idB)
	require.NoError(t, err)
	assert.Equal(t, StatusCrashed, sessB.Status)
}

func TestUnregisterActiveClearsSelection(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	idA := reg.Register(TerminalSession{Name: "a"})
	reg.Register(TerminalSession{Name: "b"})

	require.NoError(t, reg.Select(idA))
	reg.Unregister(idA)

	// No silent promotion of another terminal.
	assert.Equal(t, "", reg.ActiveID())
	assert.Len(t, reg.List(), 1)
}

func TestSendInputForwardsToCommander(t *testing.T) {
	reg, cmd, _ := newTestRegistry(t)
	id := reg.Register(TerminalSession{Name: "a"})

	require.NoError(t, reg.SendInput(id, []byte("ls\n")))
	assert.Equal(t, []byte("ls\n"), cmd.inputs[id])
}

func TestSendInputEmptyIDTargetsActive(t *testing.T) {
	reg, cmd, _ := newTestRegistry(t)
	id := reg.Register(TerminalSession{Name: "a"})
	require.NoError(t, reg.Select(id))

	require.NoError(t, reg.SendInput("", []byte("x")))
	assert.Equal(t, []byte("x"), cmd.inputs[id])
}

func TestSendInputNoActiveTerminal(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	err := reg.SendInput("", []byte("x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestSendInputCrashedTerminal(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := reg.Register(TerminalSession{Name: "a"})
	reg.MarkCrashed(id)

	err := reg.SendInput(id, []byte("x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))

	// The crashed session stays listed with its buffer.
	sess, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCrashed, sess.Status)
}

func TestResizeValidation(t *testing.T) {
	reg, cmd, _ := newTestRegistry(t)
	id := reg.Register(TerminalSession{Name: "a"})

	err := reg.Resize(id, 0, 24)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))

	err = reg.Resize(id, 80, -1)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))

	require.NoError(t, reg.Resize(id, 120, 40))
	assert.Equal(t, [2]int{120, 40}, cmd.resizes[id])

	sess, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 120, sess.Cols)
	assert.Equal(t, 40, sess.Rows)
}

func TestAppendOutputUnknownIDIsIgnored(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	seq, ok := reg.AppendOutput("ghost", "data")
	assert.False(t, ok)
	assert.Equal(t, uint64(0), seq)
}

func TestAppendOutputAssignsPerTerminalSequences(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	idA := reg.Register(TerminalSession{Name: "a"})
	idB := reg.Register(TerminalSession{Name: "b"})

	seqA1, ok := reg.AppendOutput(idA, "a1")
	require.True(t, ok)
	seqB1, ok := reg.AppendOutput(idB, "b1")
	require.True(t, ok)
	seqA2, ok := reg.AppendOutput(idA, "a2")
	require.True(t, ok)

	assert.Equal(t, uint64(1), seqA1)
	assert.Equal(t, uint64(1), seqB1)
	assert.Equal(t, uint64(2), seqA2)

	lines, err := reg.GetBuffer(idA, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "a1", lines[0].Data)
	assert.Equal(t, "a2", lines[1].Data)
}

func TestGetBufferUnknownTerminal(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.GetBuffer("ghost", 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOutputEventsArePublished(t *testing.T) {
	reg, _, memBus := newTestRegistry(t)
	id := reg.Register(TerminalSession{Name: "a"})

	var mu sync.Mutex
	var got []*bus.Event
	_, err := memBus.Subscribe(events.TerminalOutput, func(ctx context.Context, event *bus.Event) error {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	reg.AppendOutput(id, "hello")
	reg.AppendOutput(id, "world")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, id, got[0].String(events.KeyTerminalID))
	assert.Equal(t, 1, got[0].Int(events.KeySeq))
	assert.Equal(t, 2, got[1].Int(events.KeySeq))
}

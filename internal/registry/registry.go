package registry

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/termport/termport/internal/common/errors"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events"
	"github.com/termport/termport/internal/events/bus"
)

// Commander is the narrow command surface of the host terminal
// collaborator. The registry forwards input and resize requests through it
// and never reaches into the host directly.
type Commander interface {
	SendInput(terminalID string, data []byte) error
	Resize(terminalID string, cols, rows int) error
}

// entry pairs one session with its output buffer and a mutex serializing
// mutation for that terminal id. Operations on different terminals never
// contend on an entry lock.
type entry struct {
	mu   sync.Mutex
	sess *TerminalSession
	buf  *OutputBuffer
}

// Registry tracks terminal sessions, their bounded output history, and the
// single system-wide active terminal.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string // ids in creation order
	activeID string

	scrollback int
	commander  Commander
	bus        bus.EventBus
	logger     *logger.Logger
}

// New creates a Registry. commander may be nil in tests; input and resize
// forwarding then degrade to registry-local bookkeeping.
func New(scrollback int, commander Commander, eventBus bus.EventBus, log *logger.Logger) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		scrollback: scrollback,
		commander:  commander,
		bus:        eventBus,
		logger:     log.WithFields(zap.String("component", "registry")),
	}
}

// SetCommander wires the host command surface after construction. The host
// and registry reference each other, so one side has to be attached late.
func (r *Registry) SetCommander(c Commander) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commander = c
}

// Register records a new terminal session signalled by the host. An empty
// id is assigned one. Registering an id that already exists updates the
// stored metadata in place.
func (r *Registry) Register(sess TerminalSession) string {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.LastActivityAt = now
	sess.AgentDetected = DetectAgentSession(sess.Command)

	r.mu.Lock()
	if e, ok := r.entries[sess.ID]; ok {
		e.mu.Lock()
		created := e.sess.CreatedAt
		*e.sess = sess
		e.sess.CreatedAt = created
		e.mu.Unlock()
		r.mu.Unlock()
		r.publishListChanged()
		return sess.ID
	}
	r.entries[sess.ID] = &entry{
		sess: &sess,
		buf:  NewOutputBuffer(r.scrollback),
	}
	r.order = append(r.order, sess.ID)
	r.mu.Unlock()

	r.logger.Info("terminal registered",
		zap.String("terminal_id", sess.ID),
		zap.String("shell_kind", string(sess.ShellKind)),
		zap.Int("pid", sess.PID))

	r.publishListChanged()
	return sess.ID
}

// Unregister removes a closed terminal and frees its buffer. If the
// terminal was active the active pointer becomes empty; no other terminal
// is silently promoted. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID == id {
		r.activeID = ""
	}
	r.mu.Unlock()

	r.logger.Info("terminal unregistered", zap.String("terminal_id", id))
	r.publishListChanged()
}

// AppendOutput appends a chunk to the terminal's buffer and returns the
// assigned sequence number. Output for an unknown id is a benign host-event
// race: it is logged and dropped, never an error.
func (r *Registry) AppendOutput(id string, chunk string) (uint64, bool) {
	e := r.lookup(id)
	if e == nil {
		r.logger.Debug("output for unknown terminal dropped",
			zap.String("terminal_id", id))
		return 0, false
	}

	e.mu.Lock()
	seq := e.buf.Append(chunk)
	e.sess.LastActivityAt = time.Now().UTC()
	e.mu.Unlock()

	r.publishOutput(id, chunk, seq)
	return seq, true
}

// List returns session snapshots in creation order.
func (r *Registry) List() []TerminalSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]TerminalSession, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		e.mu.Lock()
		snap := *e.sess
		snap.Active = id == r.activeID
		e.mu.Unlock()
		result = append(result, snap)
	}
	return result
}

// Get returns a snapshot of one session.
func (r *Registry) Get(id string) (TerminalSession, error) {
	e := r.lookup(id)
	if e == nil {
		return TerminalSession{}, apperrors.NotFound("terminal", id)
	}
	e.mu.Lock()
	snap := *e.sess
	e.mu.Unlock()
	r.mu.RLock()
	snap.Active = id == r.activeID
	r.mu.RUnlock()
	return snap, nil
}

// GetBuffer returns the last maxLines lines of output, oldest first.
func (r *Registry) GetBuffer(id string, maxLines int) ([]Line, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, apperrors.NotFound("terminal", id)
	}
	return e.buf.Last(maxLines), nil
}

// Select makes the terminal the system-wide active one. An unknown id
// fails with NotFound and leaves the previous selection untouched. Crashed
// status is sticky and never overwritten by selection changes.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	target, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("terminal", id)
	}
	if prev, ok := r.entries[r.activeID]; ok && r.activeID != id {
		prev.mu.Lock()
		if prev.sess.Status == StatusActive {
			prev.sess.Status = StatusInactive
		}
		prev.mu.Unlock()
	}
	target.mu.Lock()
	if target.sess.Status == StatusInactive {
		target.sess.Status = StatusActive
	}
	target.mu.Unlock()
	r.activeID = id
	r.mu.Unlock()

	r.logger.Debug("active terminal changed", zap.String("terminal_id", id))
	r.publishListChanged()
	return nil
}

// ActiveID returns the current active terminal id, empty when none.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// SendInput forwards keystrokes to the host. An empty id targets the
// active terminal.
func (r *Registry) SendInput(id string, data []byte) error {
	if len(data) == 0 {
		return apperrors.InvalidArgument("input data must not be empty")
	}
	if id == "" {
		id = r.ActiveID()
		if id == "" {
			return apperrors.InvalidArgument("no active terminal to receive input")
		}
	}
	e := r.lookup(id)
	if e == nil {
		return apperrors.NotFound("terminal", id)
	}

	e.mu.Lock()
	if e.sess.Status == StatusCrashed {
		e.mu.Unlock()
		return apperrors.InvalidArgument("terminal '" + id + "' has crashed and is not accepting input")
	}
	e.sess.LastActivityAt = time.Now().UTC()
	commander := r.commander
	e.mu.Unlock()

	if commander == nil {
		return nil
	}
	if err := commander.SendInput(id, data); err != nil {
		return apperrors.Wrap(err, "forward input to host")
	}
	return nil
}

// Resize validates and applies new dimensions, then notifies the host.
func (r *Registry) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apperrors.InvalidArgument("cols and rows must be positive")
	}
	if id == "" {
		id = r.ActiveID()
		if id == "" {
			return apperrors.InvalidArgument("no active terminal to resize")
		}
	}
	e := r.lookup(id)
	if e == nil {
		return apperrors.NotFound("terminal", id)
	}

	e.mu.Lock()
	e.sess.Cols = cols
	e.sess.Rows = rows
	e.sess.LastActivityAt = time.Now().UTC()
	commander := r.commander
	e.mu.Unlock()

	if commander != nil {
		if err := commander.Resize(id, cols, rows); err != nil {
			return apperrors.Wrap(err, "forward resize to host")
		}
	}

	r.publishListChanged()
	return nil
}

// Activity records fresh process metadata for a terminal and re-evaluates
// the agent-session heuristic. Unknown ids are ignored.
func (r *Registry) Activity(id string, command string) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if command != "" {
		e.sess.Command = command
	}
	e.sess.AgentDetected = DetectAgentSession(e.sess.Command)
	e.sess.LastActivityAt = time.Now().UTC()
	e.mu.Unlock()
}

// MarkCrashed flags a terminal whose process died unexpectedly. The
// session stays listed (with its buffer) until the host confirms closure.
func (r *Registry) MarkCrashed(id string) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.sess.Status = StatusCrashed
	e.mu.Unlock()

	r.logger.Warn("terminal crashed", zap.String("terminal_id", id))
	r.publishStatus(id, StatusCrashed)
	r.publishListChanged()
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) publishOutput(id, chunk string, seq uint64) {
	if r.bus == nil {
		return
	}
	event := bus.NewEvent(events.TerminalOutput, "registry", map[string]interface{}{
		events.KeyTerminalID: id,
		events.KeyDataB64:    base64.StdEncoding.EncodeToString([]byte(chunk)),
		events.KeySeq:        int(seq),
	})
	if err := r.bus.Publish(context.Background(), events.TerminalOutput, event); err != nil {
		r.logger.Error("failed to publish output event", zap.Error(err))
	}
}

func (r *Registry) publishListChanged() {
	if r.bus == nil {
		return
	}
	event := bus.NewEvent(events.TerminalListChanged, "registry", nil)
	if err := r.bus.Publish(context.Background(), events.TerminalListChanged, event); err != nil {
		r.logger.Error("failed to publish list event", zap.Error(err))
	}
}

func (r *Registry) publishStatus(id string, status Status) {
	if r.bus == nil {
		return
	}
	event := bus.NewEvent(events.TerminalStatusChanged, "registry", map[string]interface{}{
		events.KeyTerminalID: id,
		events.KeyStatus:     string(status),
	})
	if err := r.bus.Publish(context.Background(), events.TerminalStatusChanged, event); err != nil {
		r.logger.Error("failed to publish status event", zap.Error(err))
	}
}

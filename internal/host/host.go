// Package host runs local shell processes behind PTYs and reports their
// lifecycle and output as events. It is the only package that touches the
// process table; everything downstream observes it through the bus.
package host

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/common/config"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events"
	"github.com/termport/termport/internal/events/bus"
	"github.com/termport/termport/internal/registry"
)

// Host manages the set of local PTY sessions. It implements
// registry.Commander so the registry can forward input and resize requests
// back to the owning process.
type Host struct {
	cfg    config.HostConfig
	bus    bus.EventBus
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*ptySession
	closed   bool
}

// New creates a Host. No terminals are spawned until Open is called.
func New(cfg config.HostConfig, eventBus bus.EventBus, log *logger.Logger) *Host {
	return &Host{
		cfg:      cfg,
		bus:      eventBus,
		logger:   log.WithFields(zap.String("component", "host")),
		sessions: make(map[string]*ptySession),
	}
}

// Open spawns a new shell terminal and announces it on the bus. An empty
// name gets a shell-derived default.
func (h *Host) Open(ctx context.Context, name string) (string, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", fmt.Errorf("host is shut down")
	}
	h.mu.Unlock()

	shell, args := detectShell()
	if h.cfg.Shell != "" {
		shell = h.cfg.Shell
		args = nil
	}
	workDir := h.cfg.WorkDir
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}

	id := uuid.New().String()
	kind := registry.ParseShellKind(shell)
	if name == "" {
		name = string(kind)
	}

	sess := &ptySession{
		id:       id,
		name:     name,
		workDir:  workDir,
		shell:    shell,
		args:     args,
		cols:     h.cfg.Cols,
		rows:     h.cfg.Rows,
		logger:     h.logger,
		onOutput:   h.handleOutput,
		onExit:     h.handleExit,
		onActivity: h.handleActivity,
	}
	if err := sess.start(); err != nil {
		return "", err
	}

	h.mu.Lock()
	h.sessions[id] = sess
	h.mu.Unlock()

	h.publish(ctx, events.HostTerminalOpened, map[string]interface{}{
		events.KeyTerminalID: id,
		events.KeyName:       name,
		events.KeyPID:        sess.pid(),
		events.KeyWorkDir:    workDir,
		events.KeyShellKind:  string(kind),
		events.KeyCommand:    shell,
		events.KeyCols:       h.cfg.Cols,
		events.KeyRows:       h.cfg.Rows,
	})
	return id, nil
}

// SendInput writes raw bytes to the terminal's PTY.
func (h *Host) SendInput(terminalID string, data []byte) error {
	sess := h.session(terminalID)
	if sess == nil {
		return fmt.Errorf("no such terminal: %s", terminalID)
	}
	return sess.write(data)
}

// Resize applies new PTY dimensions.
func (h *Host) Resize(terminalID string, cols, rows int) error {
	sess := h.session(terminalID)
	if sess == nil {
		return fmt.Errorf("no such terminal: %s", terminalID)
	}
	return sess.resize(cols, rows)
}

// Close terminates a terminal deliberately. The closed event follows from
// the process-exit path so observers see exactly one closure per terminal.
func (h *Host) Close(terminalID string) error {
	sess := h.session(terminalID)
	if sess == nil {
		return fmt.Errorf("no such terminal: %s", terminalID)
	}
	sess.close()
	return nil
}

// SetActive announces a host-side active terminal change, e.g. from a
// local UI. The registry resolves the id before applying it.
func (h *Host) SetActive(ctx context.Context, terminalID string) {
	h.publish(ctx, events.HostActiveChanged, map[string]interface{}{
		events.KeyTerminalID: terminalID,
	})
}

// Shutdown closes every terminal and stops accepting Open calls.
func (h *Host) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*ptySession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (h *Host) session(id string) *ptySession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

func (h *Host) handleOutput(id string, data []byte) {
	h.publish(context.Background(), events.HostTerminalOutput, map[string]interface{}{
		events.KeyTerminalID: id,
		events.KeyDataB64:    base64.StdEncoding.EncodeToString(data),
	})
}

func (h *Host) handleActivity(id, command string) {
	h.publish(context.Background(), events.HostTerminalActivity, map[string]interface{}{
		events.KeyTerminalID: id,
		events.KeyCommand:    command,
	})
}

func (h *Host) handleExit(id string, crashed bool) {
	h.mu.Lock()
	if !crashed {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	h.publish(context.Background(), events.HostTerminalClosed, map[string]interface{}{
		events.KeyTerminalID: id,
		events.KeyCrashed:    crashed,
	})
}

func (h *Host) publish(ctx context.Context, subject string, data map[string]interface{}) {
	event := bus.NewEvent(subject, "host", data)
	if err := h.bus.Publish(ctx, subject, event); err != nil {
		h.logger.Error("failed to publish host event",
			zap.String("subject", subject), zap.Error(err))
	}
}

// Package registry is the source of truth for terminal sessions, their
// metadata, and their bounded output history.
package registry

import (
	"path/filepath"
	"strings"
	"time"
)

// ShellKind tags the flavor of shell behind a terminal session. It is a
// flat tagged variant; nothing dispatches on it beyond display and
// heuristics.
type ShellKind string

const (
	ShellBash  ShellKind = "bash"
	ShellZsh   ShellKind = "zsh"
	ShellFish  ShellKind = "fish"
	ShellSh    ShellKind = "sh"
	ShellPwsh  ShellKind = "pwsh"
	ShellOther ShellKind = "other"
)

// ParseShellKind classifies a shell command path into a ShellKind.
func ParseShellKind(command string) ShellKind {
	base := strings.ToLower(filepath.Base(command))
	base = strings.TrimSuffix(base, ".exe")
	switch base {
	case "bash":
		return ShellBash
	case "zsh":
		return ShellZsh
	case "fish":
		return ShellFish
	case "sh", "dash", "ash":
		return ShellSh
	case "pwsh", "powershell":
		return ShellPwsh
	default:
		return ShellOther
	}
}

// Status describes the lifecycle state of a terminal session.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCrashed  Status = "crashed"
)

// TerminalSession holds the registry's view of one interactive shell
// process. Instances are owned exclusively by the Registry; callers receive
// copies and never mutate shared state.
type TerminalSession struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PID            int       `json:"pid"`
	WorkDir        string    `json:"work_dir"`
	ShellKind      ShellKind `json:"shell_kind"`
	Command        string    `json:"command"`
	Active         bool      `json:"active"`
	AgentDetected  bool      `json:"agent_detected"`
	Status         Status    `json:"status"`
	Cols           int       `json:"cols"`
	Rows           int       `json:"rows"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Package events provides event subjects and utilities for the termport
// event system.
package events

// Subjects emitted by the host terminal collaborator and consumed by the
// registry dispatcher.
const (
	HostTerminalOpened   = "host.terminal.opened"
	HostTerminalClosed   = "host.terminal.closed"
	HostTerminalOutput   = "host.terminal.output"
	HostTerminalActivity = "host.terminal.activity"
	HostActiveChanged    = "host.terminal.active_changed"
)

// Subjects emitted by the registry and bridged to streaming clients by the
// gateway.
const (
	TerminalOutput        = "terminal.output"
	TerminalListChanged   = "terminal.list_changed"
	TerminalStatusChanged = "terminal.status_changed"
)

// Well-known data keys shared by publishers and subscribers.
const (
	KeyTerminalID = "terminal_id"
	KeyName       = "name"
	KeyPID        = "pid"
	KeyWorkDir    = "work_dir"
	KeyShellKind  = "shell_kind"
	KeyCols       = "cols"
	KeyRows       = "rows"
	KeyCommand    = "command"
	KeyDataB64    = "data_b64"
	KeySeq        = "seq"
	KeyCrashed    = "crashed"
	KeyStatus     = "status"
)

package stream

import "time"

// InputPayload carries keystrokes for a terminal. TerminalID may be empty,
// in which case the input targets the active terminal.
type InputPayload struct {
	TerminalID string `json:"terminal_id,omitempty"`
	Data       string `json:"data"`
}

// ResizePayload carries new dimensions for a terminal.
type ResizePayload struct {
	TerminalID string `json:"terminal_id,omitempty"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

// SelectPayload switches the active terminal.
type SelectPayload struct {
	TerminalID string `json:"terminal_id"`
}

// OutputPayload carries one terminal output chunk and its per-terminal
// sequence number.
type OutputPayload struct {
	TerminalID string `json:"terminal_id"`
	Data       string `json:"data"`
	Seq        uint64 `json:"seq"`
}

// TerminalSummary is one entry of a list payload.
type TerminalSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ShellKind     string    `json:"shell_kind"`
	Status        string    `json:"status"`
	AgentDetected bool      `json:"agent_detected"`
	Cols          int       `json:"cols"`
	Rows          int       `json:"rows"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListPayload carries terminal summaries plus the current active terminal id.
type ListPayload struct {
	Terminals []TerminalSummary `json:"terminals"`
	ActiveID  string            `json:"active_id,omitempty"`
}

// StatusPayload reports a terminal status transition.
type StatusPayload struct {
	TerminalID string `json:"terminal_id"`
	Status     string `json:"status"`
}

// ConnectedAckPayload is sent once when a connection is admitted.
type ConnectedAckPayload struct {
	ConnectionID string `json:"connection_id"`
	ActiveID     string `json:"active_id,omitempty"`
}

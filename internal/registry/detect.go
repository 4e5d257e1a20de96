package registry

import "strings"

// agentMarkers are command-line substrings that identify coding-agent
// processes running inside a terminal. Matching is case-insensitive and
// deliberately loose: the flag is a display hint, not an access decision.
var agentMarkers = []string{
	"claude",
	"codex",
	"copilot",
	"gemini",
	"aider",
	"opencode",
	"auggie",
	"amp",
	"cursor-agent",
}

// DetectAgentSession reports whether the host-supplied process metadata
// looks like an automated coding agent. It is re-evaluated on activity and
// never fails; unknown metadata simply reads as "not an agent".
func DetectAgentSession(command string) bool {
	if command == "" {
		return false
	}
	lower := strings.ToLower(command)
	for _, marker := range agentMarkers {
		if containsWord(lower, marker) {
			return true
		}
	}
	return false
}

// containsWord reports whether marker appears in s bounded by non-word
// characters, so "amp" does not match "example".
func containsWord(s, marker string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], marker)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(marker)
		beforeOK := start == 0 || isWordBoundary(s[start-1])
		afterOK := end == len(s) || isWordBoundary(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordBoundary(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return false
	case c >= '0' && c <= '9':
		return false
	}
	return true
}

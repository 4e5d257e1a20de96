package host

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const activityPollInterval = 2 * time.Second

// activityLoop polls the foreground process group of the session's shell
// and reports the command line whenever it changes. On platforms without
// /proc the lookups fail and nothing is reported.
func (s *ptySession) activityLoop() {
	ticker := time.NewTicker(activityPollInterval)
	defer ticker.Stop()

	last := ""
	for range ticker.C {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}

		cmd, err := foregroundCommand(s.pid())
		if err != nil || cmd == "" || cmd == last {
			continue
		}
		last = cmd
		s.onActivity(s.id, cmd)
	}
}

// foregroundCommand resolves the command line of the process group that
// currently owns the shell's controlling terminal.
func foregroundCommand(shellPID int) (string, error) {
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(shellPID) + "/stat")
	if err != nil {
		return "", err
	}
	tpgid, err := statTpgid(string(stat))
	if err != nil {
		return "", err
	}
	if tpgid <= 0 {
		return "", nil
	}
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(tpgid) + "/cmdline")
	if err != nil {
		return "", err
	}
	return formatCmdline(raw), nil
}

// statTpgid extracts the tpgid field from a /proc/<pid>/stat line. The
// comm field may itself contain spaces and parentheses, so field parsing
// starts after the last ')'.
func statTpgid(stat string) (int, error) {
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	// Fields after comm: state ppid pgrp session tty_nr tpgid ...
	fields := strings.Fields(stat[idx+1:])
	if len(fields) < 6 {
		return 0, fmt.Errorf("short stat line")
	}
	return strconv.Atoi(fields[5])
}

// formatCmdline turns a NUL-separated /proc cmdline into a single line.
func formatCmdline(raw []byte) string {
	trimmed := strings.TrimRight(string(raw), "\x00")
	return strings.TrimSpace(strings.ReplaceAll(trimmed, "\x00", " "))
}

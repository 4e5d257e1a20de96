package host

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/common/logger"
)

// ptySession is one shell process behind a PTY. Output is delivered through
// the onOutput callback from a dedicated read goroutine; exit is reported
// once through onExit with a crashed flag.
type ptySession struct {
	id      string
	name    string
	workDir string
	shell   string
	args    []string
	cols    int
	rows    int

	ptmx *os.File
	cmd  *exec.Cmd

	logger     *logger.Logger
	onOutput   func(id string, data []byte)
	onExit     func(id string, crashed bool)
	onActivity func(id, command string)

	mu      sync.Mutex
	running bool
	closing bool
}

// detectShell picks a shell for the current OS, honoring $SHELL on Unix.
func detectShell() (string, []string) {
	if runtime.GOOS == "windows" {
		if _, err := exec.LookPath("pwsh.exe"); err == nil {
			return "pwsh.exe", []string{"-NoLogo"}
		}
		if _, err := exec.LookPath("powershell.exe"); err == nil {
			return "powershell.exe", []string{"-NoLogo"}
		}
		return "cmd.exe", nil
	}

	if shell := os.Getenv("SHELL"); shell != "" {
		return shell, []string{"-l"}
	}
	for _, sh := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(sh); err == nil {
			return sh, []string{"-l"}
		}
	}
	return "/bin/sh", nil
}

// buildShellEnv creates the environment for the shell process.
func buildShellEnv(workDir string) []string {
	env := os.Environ()
	env = append(env, "PWD="+workDir)
	env = append(env, "TERM=xterm-256color")
	env = append(env, "LANG=C.UTF-8")
	env = append(env, "LC_ALL=C.UTF-8")
	return env
}

func (s *ptySession) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cmd = exec.Command(s.shell, s.args...)
	s.cmd.Dir = s.workDir
	s.cmd.Env = buildShellEnv(s.workDir)

	var err error
	s.ptmx, err = pty.StartWithSize(s.cmd, &pty.Winsize{
		Cols: uint16(s.cols),
		Rows: uint16(s.rows),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}
	s.running = true

	s.logger.Info("terminal process started",
		zap.String("terminal_id", s.id),
		zap.String("shell", s.shell),
		zap.Int("pid", s.cmd.Process.Pid))

	go s.readLoop()
	go s.waitForExit()
	if s.onActivity != nil {
		go s.activityLoop()
	}
	return nil
}

func (s *ptySession) pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

func (s *ptySession) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.ptmx == nil {
		return fmt.Errorf("terminal %s is not running", s.id)
	}
	_, err := s.ptmx.Write(data)
	return err
}

func (s *ptySession) resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.ptmx == nil {
		return fmt.Errorf("terminal %s is not running", s.id)
	}
	s.cols = cols
	s.rows = rows
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// close terminates the session deliberately. Closing the PTY sends SIGHUP
// on Unix; a kill follows if the process lingers.
func (s *ptySession) close() {
	s.mu.Lock()
	if !s.running || s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	ptmx := s.ptmx
	cmd := s.cmd
	s.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		go func() {
			time.Sleep(3 * time.Second)
			_ = cmd.Process.Kill()
		}()
	}
}

func (s *ptySession) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.onOutput(s.id, data)
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("terminal read ended",
					zap.String("terminal_id", s.id), zap.Error(err))
			}
			return
		}
	}
}

func (s *ptySession) waitForExit() {
	var exitErr error
	if s.cmd != nil {
		exitErr = s.cmd.Wait()
	}

	s.mu.Lock()
	s.running = false
	deliberate := s.closing
	s.mu.Unlock()

	crashed := !deliberate && exitErr != nil
	if crashed {
		s.logger.Warn("terminal process exited unexpectedly",
			zap.String("terminal_id", s.id), zap.Error(exitErr))
	}
	s.onExit(s.id, crashed)
}

// Package sysd drives the managed systemd unit through shell commands.
// systemd itself is an external collaborator: only systemctl/journalctl
// invocations live here, never unit semantics.
package sysd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	logs "github.com/danmuck/deployctl/internal/logging"
	"github.com/danmuck/deployctl/internal/tools"
)

var (
	ErrUnitRequired  = errors.New("sysd: unit name is required")
	ErrCommandFailed = errors.New("sysd: systemctl command failed")
)

// Supervisor wraps status, restart, and log access for one unit.
type Supervisor struct {
	unit   string
	runner tools.CommandRunner
}

func NewSupervisor(unit string, runner tools.CommandRunner) (*Supervisor, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return nil, ErrUnitRequired
	}
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Supervisor{unit: unit, runner: runner}, nil
}

// Unit returns the managed unit name.
func (s *Supervisor) Unit() string {
	return s.unit
}

// Status returns the human-readable systemctl status output.
func (s *Supervisor) Status() (string, error) {
	stdout, stderr, exitCode, err := s.runner.Run("systemctl", "status", s.unit, "--no-pager")
	// systemctl status exits 3 for stopped units; the output is still the answer.
	if err != nil && exitCode != 3 {
		return "", commandError("status", s.unit, exitCode, stdout, stderr, err)
	}
	return string(stdout), nil
}

// IsActive reports whether the unit is active, along with the raw state.
func (s *Supervisor) IsActive() (bool, string, error) {
	stdout, stderr, exitCode, err := s.runner.Run("systemctl", "is-active", s.unit)
	state := strings.TrimSpace(string(stdout))
	if err == nil {
		return true, state, nil
	}
	// Non-zero exit with a state on stdout means inactive/failed, not an
	// execution failure.
	if state != "" {
		return false, state, nil
	}
	return false, "", commandError("is-active", s.unit, exitCode, stdout, stderr, err)
}

// Restart restarts the unit.
func (s *Supervisor) Restart() error {
	stdout, stderr, exitCode, err := s.runner.Run("systemctl", "restart", s.unit)
	if err != nil {
		return commandError("restart", s.unit, exitCode, stdout, stderr, err)
	}
	logs.Infof("sysd.Supervisor.Restart ok unit=%q", s.unit)
	return nil
}

// Logs returns the last n journal lines for the unit.
func (s *Supervisor) Logs(n int) (string, error) {
	if n <= 0 {
		n = 50
	}
	stdout, stderr, exitCode, err := s.runner.Run(
		"journalctl", "-u", s.unit, "-n", strconv.Itoa(n), "--no-pager",
	)
	if err != nil {
		return "", commandError("journalctl", s.unit, exitCode, stdout, stderr, err)
	}
	return string(stdout), nil
}

func commandError(op string, unit string, exitCode int32, stdout, stderr []byte, err error) error {
	return fmt.Errorf(
		"%w: op=%s unit=%q exit=%d stdout=%q stderr=%q: %v",
		ErrCommandFailed,
		op,
		unit,
		exitCode,
		strings.TrimSpace(string(stdout)),
		strings.TrimSpace(string(stderr)),
		err,
	)
}

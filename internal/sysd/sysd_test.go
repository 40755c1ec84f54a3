package sysd

import (
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	commands [][]string
	results  []fakeResult
}

type fakeResult struct {
	stdout   []byte
	stderr   []byte
	exitCode int32
	err      error
}

func (r *fakeRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := append([]string{name}, args...)
	r.commands = append(r.commands, cmd)
	if len(r.results) > 0 {
		next := r.results[0]
		r.results = r.results[1:]
		return next.stdout, next.stderr, next.exitCode, next.err
	}
	return nil, nil, 0, nil
}

func TestNewSupervisorRequiresUnit(t *testing.T) {
	if _, err := NewSupervisor("  ", nil); !errors.Is(err, ErrUnitRequired) {
		t.Fatalf("expected ErrUnitRequired, got %v", err)
	}
}

func TestRestartCommandShape(t *testing.T) {
	runner := &fakeRunner{}
	sup, err := NewSupervisor("melody-bot.service", runner)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	if err := sup.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := strings.Join(runner.commands[0], " "); got != "systemctl restart melody-bot.service" {
		t.Fatalf("unexpected restart command: %q", got)
	}
}

func TestStatusToleratesStoppedUnit(t *testing.T) {
	runner := &fakeRunner{
		results: []fakeResult{
			{stdout: []byte("inactive (dead)"), exitCode: 3, err: errors.New("exit status 3")},
		},
	}
	sup, err := NewSupervisor("melody-bot.service", runner)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	out, err := sup.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "inactive") {
		t.Fatalf("unexpected status output: %q", out)
	}
}

func TestIsActiveMapsStates(t *testing.T) {
	runner := &fakeRunner{
		results: []fakeResult{
			{stdout: []byte("active\n")},
			{stdout: []byte("failed\n"), exitCode: 3, err: errors.New("exit status 3")},
		},
	}
	sup, err := NewSupervisor("melody-bot.service", runner)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	active, state, err := sup.IsActive()
	if err != nil || !active || state != "active" {
		t.Fatalf("unexpected active result: %v %q %v", active, state, err)
	}

	active, state, err = sup.IsActive()
	if err != nil || active || state != "failed" {
		t.Fatalf("unexpected failed result: %v %q %v", active, state, err)
	}
}

func TestLogsCommandShape(t *testing.T) {
	runner := &fakeRunner{
		results: []fakeResult{
			{stdout: []byte("log line\n")},
		},
	}
	sup, err := NewSupervisor("melody-bot.service", runner)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	out, err := sup.Logs(0)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "log line\n" {
		t.Fatalf("unexpected logs output: %q", out)
	}
	if got := strings.Join(runner.commands[0], " "); got != "journalctl -u melody-bot.service -n 50 --no-pager" {
		t.Fatalf("unexpected journalctl command: %q", got)
	}
}

func TestIsActiveReportsExecutionFailure(t *testing.T) {
	runner := &fakeRunner{
		results: []fakeResult{
			{stderr: []byte("command not found"), exitCode: 127, err: errors.New("not found")},
		},
	}
	sup, err := NewSupervisor("melody-bot.service", runner)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	if _, _, err := sup.IsActive(); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

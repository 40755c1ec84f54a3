package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/deployctl/internal/envfile"
	"github.com/danmuck/deployctl/internal/tools"
)

type fakeRunner struct {
	commands [][]string
	results  map[string]fakeResult
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
	if res, ok := r.results[strings.Join(cmd, " ")]; ok {
		return res.stdout, res.stderr, res.exitCode, res.err
	}
	return nil, nil, 0, nil
}

func (r *fakeRunner) joined() []string {
	out := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, strings.Join(cmd, " "))
	}
	return out
}

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	return Config{
		Root:           root,
		Branch:         "main",
		InstallCommand: []string{"pip", "install", "-r", "requirements.txt"},
		EnvPath:        filepath.Join(root, ".env"),
		Policy: envfile.Policy{
			Secrets:  []string{"BOT_TOKEN", "ADMIN_TOKEN"},
			Tunables: []string{"SUNO_MODEL"},
		},
		Unit: "melody-bot.service",
	}
}

func testSecrets() StaticSource {
	return StaticSource{
		"BOT_TOKEN":   "tok-1",
		"ADMIN_TOKEN": "adm-1",
		"SUNO_MODEL":  "V4",
	}
}

func TestRunCIDeployExecutesFullSequence(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	report, err := pipe.Run(context.Background(), TriggerCI)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome: %q", report.Outcome)
	}

	want := []string{
		"git -C " + cfg.Root + " fetch --all --prune",
		"git -C " + cfg.Root + " checkout main",
		"git -C " + cfg.Root + " pull --ff-only origin main",
		"pip install -r requirements.txt",
		"systemctl restart melody-bot.service",
		"systemctl is-active melody-bot.service",
	}
	got := runner.joined()
	if len(got) != len(want) {
		t.Fatalf("unexpected command count %d: %v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d mismatch:\n got %q\nwant %q", i, got[i], want[i])
		}
	}

	if !report.EnvChanges.Created {
		t.Fatalf("expected env file creation, got %+v", report.EnvChanges)
	}
	values, err := envfile.Load(cfg.EnvPath)
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if values["BOT_TOKEN"] != "tok-1" {
		t.Fatalf("unexpected BOT_TOKEN: %q", values["BOT_TOKEN"])
	}
}

func TestRunManualDeployGatesRestartWithoutConfirmation(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	report, err := pipe.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Outcome != OutcomeGated {
		t.Fatalf("unexpected outcome: %q", report.Outcome)
	}

	restart, ok := report.Step(StepRestart)
	if !ok || restart.Status != StepSkipped {
		t.Fatalf("unexpected restart step: %+v", restart)
	}
	verify, ok := report.Step(StepVerify)
	if !ok || verify.Status != StepSkipped {
		t.Fatalf("unexpected verify step: %+v", verify)
	}
	for _, cmd := range runner.joined() {
		if strings.HasPrefix(cmd, "systemctl") {
			t.Fatalf("gated deploy touched systemctl: %q", cmd)
		}
	}
	// The env file is still reconciled before the gate.
	if _, err := envfile.Load(cfg.EnvPath); err != nil {
		t.Fatalf("env not reconciled: %v", err)
	}
}

func TestRunManualDeployRestartsWhenConfirmed(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	confirmedUnit := ""
	pipe, err := NewPipeline(cfg, Options{
		Runner:  runner,
		Secrets: testSecrets(),
		Confirm: func(unit string) bool {
			confirmedUnit = unit
			return true
		},
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	report, err := pipe.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome: %q", report.Outcome)
	}
	if confirmedUnit != "melody-bot.service" {
		t.Fatalf("confirm callback got unit %q", confirmedUnit)
	}
}

func TestRunFailedInstallShortCircuits(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{
		results: map[string]fakeResult{
			"pip install -r requirements.txt": {
				stderr:   []byte("resolver error"),
				exitCode: 1,
				err:      errors.New("exit status 1"),
			},
		},
	}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	report, err := pipe.Run(context.Background(), TriggerCI)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Fatalf("unexpected outcome: %q", report.Outcome)
	}
	if _, ok := report.Step(StepReconcile); ok {
		t.Fatalf("reconcile ran after failed install")
	}
	if exists, _ := envfile.Exists(cfg.EnvPath); exists {
		t.Fatalf("env file written despite failed install")
	}
	for _, cmd := range runner.joined() {
		if strings.HasPrefix(cmd, "systemctl restart") {
			t.Fatalf("restart ran after failed install: %q", cmd)
		}
	}
}

func TestRunClonesWhenRootIsEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Root = filepath.Join(t.TempDir(), "checkout")
	cfg.RepoURL = "https://github.com/example/melody-bot.git"
	cfg.EnvPath = filepath.Join(filepath.Dir(cfg.Root), ".env")
	runner := &fakeRunner{}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	if _, err := pipe.Run(context.Background(), TriggerCI); err != nil {
		t.Fatalf("run: %v", err)
	}
	first := runner.joined()[0]
	if !strings.Contains(first, "git clone --branch main --single-branch https://github.com/example/melody-bot.git") {
		t.Fatalf("unexpected clone command: %q", first)
	}
}

// dirCheckRunner records whether dir existed when each command ran.
type dirCheckRunner struct {
	inner   *fakeRunner
	dir     string
	existed []bool
}

func (r *dirCheckRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	_, err := os.Stat(r.dir)
	r.existed = append(r.existed, err == nil)
	return r.inner.Run(name, args...)
}

func TestRunCreatesRootBeforeCloning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Root = filepath.Join(t.TempDir(), "checkout")
	cfg.RepoURL = "https://github.com/example/melody-bot.git"
	cfg.EnvPath = filepath.Join(filepath.Dir(cfg.Root), ".env")
	runner := &dirCheckRunner{inner: &fakeRunner{}, dir: cfg.Root}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	if _, err := pipe.Run(context.Background(), TriggerCI); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runner.existed) == 0 || !runner.existed[0] {
		t.Fatalf("clone command ran before the checkout directory existed")
	}
	// The default runners chdir into the root, so commands must work there
	// as soon as the clone step has run.
	if _, _, exitCode, err := (tools.ExecRunner{Dir: cfg.Root}).Run("echo", "ok"); err != nil || exitCode != 0 {
		t.Fatalf("exec in checkout dir: exit=%d err=%v", exitCode, err)
	}
}

func TestRunRejectsMissingRepoForEmptyRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Root = filepath.Join(t.TempDir(), "checkout")
	runner := &fakeRunner{}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	report, err := pipe.Run(context.Background(), TriggerCI)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Fatalf("unexpected outcome: %q", report.Outcome)
	}
}

func TestRunFailsWhenUnitNotActiveAfterRestart(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{
		results: map[string]fakeResult{
			"systemctl is-active melody-bot.service": {
				stdout:   []byte("failed\n"),
				exitCode: 3,
				err:      errors.New("exit status 3"),
			},
		},
	}
	pipe, err := NewPipeline(cfg, Options{Runner: runner, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	report, err := pipe.Run(context.Background(), TriggerCI)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	verify, ok := report.Step(StepVerify)
	if !ok || verify.Status != StepError || verify.Detail != "failed" {
		t.Fatalf("unexpected verify step: %+v", verify)
	}
}

func TestRunRejectsUnknownTrigger(t *testing.T) {
	cfg := testConfig(t)
	pipe, err := NewPipeline(cfg, Options{Runner: &fakeRunner{}, Secrets: testSecrets()})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	if _, err := pipe.Run(context.Background(), Trigger("cron")); !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger, got %v", err)
	}
}

package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/deployctl/internal/envfile"
	logs "github.com/danmuck/deployctl/internal/logging"
	"github.com/danmuck/deployctl/internal/observability"
	"github.com/danmuck/deployctl/internal/sysd"
	"github.com/danmuck/deployctl/internal/tools"
)

var (
	ErrInvalidConfig  = errors.New("deploy: invalid pipeline config")
	ErrInvalidTrigger = errors.New("deploy: invalid trigger")
	ErrStepFailed     = errors.New("deploy: step failed")
	ErrUnitNotActive  = errors.New("deploy: unit not active after restart")
)

// Config describes one deployment target.
type Config struct {
	// Root is the checkout directory on the host.
	Root string
	// RepoURL enables clone when Root holds no repository yet.
	RepoURL string
	// Branch is the deployed branch; pulls are always fast-forward only.
	Branch string
	// InstallCommand is the dependency install argv. Empty skips the step.
	InstallCommand []string
	// EnvPath is the environment file the reconcile step owns.
	EnvPath string
	// Policy partitions env keys into secret and tunable classes.
	Policy envfile.Policy
	// Unit is the managed systemd unit.
	Unit string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("%w: missing root", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Branch) == "" {
		return fmt.Errorf("%w: missing branch", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.EnvPath) == "" {
		return fmt.Errorf("%w: missing env_path", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Unit) == "" {
		return fmt.Errorf("%w: missing unit", ErrInvalidConfig)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	return nil
}

// ConfirmFunc answers the manual restart gate. Returning false leaves the
// old process running with the new code staged on disk.
type ConfirmFunc func(unit string) bool

// Options injects collaborators; zero values select host defaults.
type Options struct {
	Runner  tools.CommandRunner
	Secrets SecretSource
	Confirm ConfirmFunc
}

// Pipeline executes deploys for one target.
type Pipeline struct {
	cfg     Config
	runner  tools.CommandRunner
	secrets SecretSource
	sup     *sysd.Supervisor
	confirm ConfirmFunc
}

func NewPipeline(cfg Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Secrets == nil {
		return nil, fmt.Errorf("%w: missing secret source", ErrInvalidConfig)
	}

	runner := opts.Runner
	if runner == nil {
		runner = tools.ExecRunner{Dir: cfg.Root}
	}
	sup, err := sysd.NewSupervisor(cfg.Unit, runner)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		runner:  runner,
		secrets: opts.Secrets,
		sup:     sup,
		confirm: opts.Confirm,
	}, nil
}

// Run executes the pipeline once. The returned Report is populated for
// every run; err is non-nil only when a step failed.
func (p *Pipeline) Run(ctx context.Context, trigger Trigger) (Report, error) {
	if !validTrigger(trigger) {
		return Report{}, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	report := Report{
		DeployID:  uuid.NewString(),
		Trigger:   trigger,
		Branch:    p.cfg.Branch,
		StartedAt: time.Now().UTC(),
	}
	logs.Infof(
		"deploy.Pipeline.Run start deploy_id=%q trigger=%q branch=%q root=%q",
		report.DeployID,
		trigger,
		p.cfg.Branch,
		p.cfg.Root,
	)

	err := p.runSteps(ctx, trigger, &report)
	report.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		report.Outcome = OutcomeFailed
		report.Error = err.Error()
	case p.restartSkipped(report):
		report.Outcome = OutcomeGated
	default:
		report.Outcome = OutcomeSuccess
	}

	observability.RecordDeploy(string(trigger), report.Outcome, report.FinishedAt.Sub(report.StartedAt))
	logs.Infof(
		"deploy.Pipeline.Run done deploy_id=%q outcome=%q steps=%d",
		report.DeployID,
		report.Outcome,
		len(report.Steps),
	)
	return report, err
}

func (p *Pipeline) runSteps(ctx context.Context, trigger Trigger, report *Report) error {
	steps := []struct {
		name string
		run  func(*Report) (StepResult, error)
	}{
		{StepFetch, p.stepFetch},
		{StepInstall, p.stepInstall},
		{StepReconcile, p.stepReconcile},
		{StepRestart, func(r *Report) (StepResult, error) { return p.stepRestart(trigger, r) }},
		{StepVerify, p.stepVerify},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		result, err := step.run(report)
		result.Name = step.name
		result.Duration = time.Since(started)
		report.Steps = append(report.Steps, result)
		observability.RecordStep(step.name, result.Status, result.Duration)
		if err != nil {
			logs.Warnf(
				"deploy.Pipeline step failed deploy_id=%q step=%s exit=%d err=%v",
				report.DeployID,
				step.name,
				result.ExitCode,
				err,
			)
			return fmt.Errorf("%w: %s: %v", ErrStepFailed, step.name, err)
		}
	}
	return nil
}

func (p *Pipeline) stepInstall(_ *Report) (StepResult, error) {
	if len(p.cfg.InstallCommand) == 0 {
		return StepResult{Status: StepSkipped, Detail: "no install command configured"}, nil
	}
	name := p.cfg.InstallCommand[0]
	args := p.cfg.InstallCommand[1:]
	stdout, stderr, exitCode, err := p.runner.Run(name, args...)
	result := StepResult{
		Status:   StepOK,
		Stdout:   trimOutput(stdout),
		Stderr:   trimOutput(stderr),
		ExitCode: exitCode,
	}
	if err != nil {
		result.Status = StepError
		return result, err
	}
	return result, nil
}

func (p *Pipeline) stepReconcile(report *Report) (StepResult, error) {
	trusted, err := p.secrets.Trusted()
	if err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}
	summary, err := envfile.Reconcile(p.cfg.EnvPath, trusted, p.cfg.Policy)
	if err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}
	report.EnvChanges = summary
	detail := fmt.Sprintf(
		"created=%v refreshed=%d preserved=%d adopted=%d",
		summary.Created,
		len(summary.Refreshed),
		len(summary.Preserved),
		len(summary.Adopted),
	)
	return StepResult{Status: StepOK, Detail: detail}, nil
}

func (p *Pipeline) stepRestart(trigger Trigger, _ *Report) (StepResult, error) {
	if trigger == TriggerManual {
		if p.confirm == nil || !p.confirm(p.cfg.Unit) {
			logs.Infof("deploy.Pipeline restart gate held unit=%q", p.cfg.Unit)
			return StepResult{Status: StepSkipped, Detail: "restart not confirmed by operator"}, nil
		}
	}
	if err := p.sup.Restart(); err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}
	return StepResult{Status: StepOK}, nil
}

func (p *Pipeline) stepVerify(report *Report) (StepResult, error) {
	if restart, ok := report.Step(StepRestart); ok && restart.Status == StepSkipped {
		return StepResult{Status: StepSkipped, Detail: "restart was gated"}, nil
	}
	active, state, err := p.sup.IsActive()
	if err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}
	if !active {
		return StepResult{Status: StepError, Detail: state, ExitCode: 1},
			fmt.Errorf("%w: unit=%q state=%q", ErrUnitNotActive, p.cfg.Unit, state)
	}
	return StepResult{Status: StepOK, Detail: state}, nil
}

func (p *Pipeline) restartSkipped(report Report) bool {
	restart, ok := report.Step(StepRestart)
	return ok && restart.Status == StepSkipped
}

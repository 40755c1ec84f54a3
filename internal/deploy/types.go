package deploy

import (
	"strings"
	"time"

	"github.com/danmuck/deployctl/internal/envfile"
)

// Trigger identifies who started a deploy.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerCI     Trigger = "ci"
)

// Step names in execution order.
const (
	StepFetch     = "fetch"
	StepInstall   = "install"
	StepReconcile = "reconcile"
	StepRestart   = "restart"
	StepVerify    = "verify"
)

// Step statuses.
const (
	StepOK      = "ok"
	StepError   = "error"
	StepSkipped = "skipped"
)

// Deploy outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	// OutcomeGated marks a manual deploy that completed up to the restart
	// gate and stopped there without operator confirmation.
	OutcomeGated = "gated"
)

// StepResult captures one pipeline step execution.
type StepResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int32         `json:"exit_code"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the journaled record of one pipeline run.
type Report struct {
	DeployID   string                `json:"deploy_id"`
	Trigger    Trigger               `json:"trigger"`
	Branch     string                `json:"branch"`
	Outcome    string                `json:"outcome"`
	Error      string                `json:"error,omitempty"`
	Steps      []StepResult          `json:"steps"`
	EnvChanges envfile.ChangeSummary `json:"env_changes"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Step returns the result for a named step, if it ran.
func (r Report) Step(name string) (StepResult, bool) {
	for _, step := range r.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return StepResult{}, false
}

func validTrigger(trigger Trigger) bool {
	switch trigger {
	case TriggerManual, TriggerCI:
		return true
	}
	return false
}

func trimOutput(b []byte) string {
	return strings.TrimSpace(string(b))
}

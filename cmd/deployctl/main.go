package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/deploy"
	"github.com/danmuck/deployctl/internal/logging"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/sysd"
)

const usage = `deployctl - deployment control for the managed bot host

Usage:
  deployctl [flags] <command> [args]

Commands:
  deploy              run the deploy pipeline (agent mode, or --local)
  status              show unit state and last deploy
  logs                show recent unit journal lines
  restart             restart the managed unit
  env get             show runtime-tunable settings
  env set KEY VALUE   change one runtime-tunable setting
  history             list recent deploys
  show DEPLOY_ID      show one journaled deploy in full

Flags:
`

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "deployctl: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg       config.Config
	agentAddr string
	useSSH    bool
	local     bool
	assumeYes bool
	ciTrigger bool
	lines     int
	follow    bool
	token     string
}

func run(args []string) error {
	flags := flag.NewFlagSet("deployctl", flag.ContinueOnError)
	configPath := flags.StringP("config", "c", "deployctl.toml", "path to deployctl.toml")
	agentAddr := flags.String("agent", "", "agent control endpoint (defaults to [agent].admin_addr)")
	useSSH := flags.Bool("ssh", false, "drive systemctl/journalctl over SSH instead of the agent")
	local := flags.Bool("local", false, "run the deploy pipeline in-process on this host")
	assumeYes := flags.BoolP("yes", "y", false, "answer the restart confirmation without prompting")
	ciTrigger := flags.Bool("ci", false, "mark the deploy as CI-triggered (restarts without the gate)")
	lines := flags.IntP("lines", "n", 50, "line count for logs and history")
	follow := flags.BoolP("follow", "f", false, "follow unit logs (requires --ssh)")
	token := flags.String("token", "", "admin token for the agent endpoint (defaults to $DEPLOYCTL_ADMIN_TOKEN)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	a := &app{
		cfg:       cfg,
		agentAddr: strings.TrimSpace(*agentAddr),
		useSSH:    *useSSH,
		local:     *local,
		assumeYes: *assumeYes,
		ciTrigger: *ciTrigger,
		lines:     *lines,
		follow:    *follow,
		token:     strings.TrimSpace(*token),
	}
	if a.agentAddr == "" {
		a.agentAddr = cfg.Agent.AdminAddr
	}
	if a.token == "" {
		a.token = strings.TrimSpace(os.Getenv("DEPLOYCTL_ADMIN_TOKEN"))
	}

	switch rest[0] {
	case "deploy":
		return a.cmdDeploy()
	case "status":
		return a.cmdStatus()
	case "logs":
		return a.cmdLogs()
	case "restart":
		return a.cmdRestart()
	case "env":
		return a.cmdEnv(rest[1:])
	case "history":
		return a.cmdHistory()
	case "show":
		return a.cmdShow(rest[1:])
	default:
		flags.Usage()
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func (a *app) trigger() deploy.Trigger {
	if a.ciTrigger {
		return deploy.TriggerCI
	}
	return deploy.TriggerManual
}

func (a *app) cmdDeploy() error {
	if a.local {
		return a.deployLocal()
	}

	// Resolve the gate before sending: manual deploys only restart when
	// the operator confirms here.
	confirmed := a.ciTrigger || a.assumeYes
	if !confirmed && a.trigger() == deploy.TriggerManual {
		confirmed = promptConfirm(os.Stdin, os.Stdout, a.cfg.Service.Unit)
	}

	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	report, err := client.Deploy(a.trigger(), confirmed)
	if err != nil {
		return err
	}
	printReport(report)
	if report.Outcome == deploy.OutcomeFailed {
		return fmt.Errorf("deploy %s failed: %s", report.DeployID, report.Error)
	}
	return nil
}

func (a *app) deployLocal() error {
	pipeline, err := deploy.NewPipeline(deploy.Config{
		Root:           a.cfg.Deploy.Root,
		RepoURL:        a.cfg.Deploy.RepoURL,
		Branch:         a.cfg.Deploy.Branch,
		InstallCommand: a.cfg.Deploy.InstallCommand,
		EnvPath:        a.cfg.Env.Path,
		Policy:         a.cfg.Policy(),
		Unit:           a.cfg.Service.Unit,
	}, deploy.Options{
		Secrets: deploy.FileSource{Path: a.cfg.Deploy.SecretSource},
		Confirm: func(unit string) bool {
			if a.assumeYes {
				return true
			}
			return promptConfirm(os.Stdin, os.Stdout, unit)
		},
	})
	if err != nil {
		return err
	}

	report, runErr := pipeline.Run(context.Background(), a.trigger())
	printReport(report)
	return runErr
}

func (a *app) cmdStatus() error {
	if a.useSSH {
		sup, err := a.sshSupervisor()
		if err != nil {
			return err
		}
		output, err := sup.Status()
		if err != nil {
			return err
		}
		fmt.Print(output)
		return nil
	}

	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	view, err := client.Status()
	if err != nil {
		return err
	}
	fmt.Printf("unit:       %s (%s)\n", view.Unit, view.UnitState)
	fmt.Printf("branch:     %s\n", view.Branch)
	fmt.Printf("deploying:  %v\n", view.Deploying)
	fmt.Printf("agent up:   since %s\n", view.AgentStartedAt.Format(time.RFC3339))
	if view.LastDeploy != nil {
		fmt.Printf(
			"last deploy: %s %s (%s) at %s\n",
			view.LastDeploy.DeployID,
			view.LastDeploy.Outcome,
			view.LastDeploy.Trigger,
			view.LastDeploy.FinishedAt.Format(time.RFC3339),
		)
	}
	return nil
}

func (a *app) cmdLogs() error {
	if a.follow && !a.useSSH {
		return fmt.Errorf("--follow needs --ssh; the agent endpoint serves bounded log reads only")
	}
	if a.useSSH {
		runner, err := a.sshRunner()
		if err != nil {
			return err
		}
		if a.follow {
			return runner.RunStreaming(
				"journalctl",
				[]string{"-u", a.cfg.Service.Unit, "-n", fmt.Sprint(a.lines), "--no-pager", "-f"},
				os.Stdout, os.Stderr,
			)
		}
		sup, err := sysd.NewSupervisor(a.cfg.Service.Unit, runner)
		if err != nil {
			return err
		}
		output, err := sup.Logs(a.lines)
		if err != nil {
			return err
		}
		fmt.Print(output)
		return nil
	}

	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	output, err := client.Logs(a.lines)
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}

func (a *app) cmdRestart() error {
	if !a.assumeYes && !promptConfirm(os.Stdin, os.Stdout, a.cfg.Service.Unit) {
		fmt.Println("restart cancelled")
		return nil
	}

	if a.useSSH {
		sup, err := a.sshSupervisor()
		if err != nil {
			return err
		}
		if err := sup.Restart(); err != nil {
			return err
		}
		active, state, err := sup.IsActive()
		if err != nil {
			return err
		}
		fmt.Printf("restarted %s: active=%v state=%s\n", a.cfg.Service.Unit, active, state)
		return nil
	}

	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Restart(); err != nil {
		return err
	}
	fmt.Printf("restarted %s\n", a.cfg.Service.Unit)
	return nil
}

func (a *app) cmdEnv(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("env requires a subcommand: get | set KEY VALUE")
	}

	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	switch args[0] {
	case "get":
		settings, err := client.GetSettings()
		if err != nil {
			return err
		}
		for _, key := range a.cfg.Env.Tunables {
			fmt.Printf("%s=%s\n", key, settings[key])
		}
		return nil
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("env set requires KEY and VALUE")
		}
		if err := client.SetSetting(args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", args[1], args[2])
		return nil
	default:
		return fmt.Errorf("unknown env subcommand: %s", args[0])
	}
}

func (a *app) cmdHistory() error {
	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	summaries, err := client.Recent(a.lines)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		line := fmt.Sprintf(
			"%s  %-7s %-8s %s",
			s.FinishedAt.Format(time.RFC3339),
			s.Outcome,
			s.Trigger,
			s.DeployID,
		)
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) cmdShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("show requires exactly one DEPLOY_ID")
	}

	client, err := a.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	report, err := client.ByID(args[0])
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

func (a *app) dial() (*agentClient, error) {
	if strings.TrimSpace(a.agentAddr) == "" {
		return nil, fmt.Errorf("no agent address configured; set [agent].admin_addr or pass --agent")
	}
	timeout, err := a.cfg.DialTimeout()
	if err != nil {
		return nil, err
	}
	return dialAgent(a.agentAddr, timeout, a.token)
}

func (a *app) sshRunner() (remote.SSHRunner, error) {
	if err := config.ValidateTarget(a.cfg.Target); err != nil {
		return remote.SSHRunner{}, err
	}
	timeout, err := a.cfg.DialTimeout()
	if err != nil {
		return remote.SSHRunner{}, err
	}
	return remote.SSHRunner{
		Host:                        a.cfg.Target.Host,
		Port:                        a.cfg.Target.Port,
		User:                        a.cfg.Target.User,
		KeyPath:                     a.cfg.Target.KeyPath,
		KnownHostsPath:              a.cfg.Target.KnownHostsPath,
		InsecureSkipHostKeyChecking: a.cfg.Target.InsecureSkipHostKeyChecking,
		Timeout:                     timeout,
	}, nil
}

func (a *app) sshSupervisor() (*sysd.Supervisor, error) {
	runner, err := a.sshRunner()
	if err != nil {
		return nil, err
	}
	return sysd.NewSupervisor(a.cfg.Service.Unit, runner)
}

func printReport(report deploy.Report) {
	fmt.Printf(
		"deploy %s: %s (trigger=%s branch=%s, %s)\n",
		report.DeployID,
		report.Outcome,
		report.Trigger,
		report.Branch,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-10s %s", step.Name, step.Status)
		if step.Detail != "" {
			line += "  " + step.Detail
		}
		fmt.Println(line)
	}
}

// promptConfirm asks the operator before a restart is allowed through.
func promptConfirm(in *os.File, out *os.File, unit string) bool {
	fmt.Fprintf(out, "restart %s now? [y/N]: ", unit)
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return parseConfirmation(line)
}

func parseConfirmation(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

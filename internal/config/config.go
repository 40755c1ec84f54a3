package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/deployctl/internal/envfile"
)

// TargetConfig is the SSH endpoint for direct operator commands.
type TargetConfig struct {
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
	DialTimeout                 string `toml:"dial_timeout"`
}

// DeployConfig describes the checkout and install step.
type DeployConfig struct {
	Root           string   `toml:"root"`
	RepoURL        string   `toml:"repo_url"`
	Branch         string   `toml:"branch"`
	InstallCommand []string `toml:"install_command"`
	SecretSource   string   `toml:"secret_source"`
}

// EnvConfig describes the managed environment file.
type EnvConfig struct {
	Path     string   `toml:"path"`
	Secrets  []string `toml:"secrets"`
	Tunables []string `toml:"tunables"`
}

// ServiceConfig names the managed systemd unit.
type ServiceConfig struct {
	Unit string `toml:"unit"`
}

// AgentConfig configures the deployd runtime.
type AgentConfig struct {
	AdminAddr   string `toml:"admin_addr"`
	MetricsAddr string `toml:"metrics_addr"`
	Heartbeat   string `toml:"heartbeat"`
	JournalPath string `toml:"journal_path"`
}

// NotifyConfig configures deploy notifications.
type NotifyConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// Config is the full deployctl.toml shape shared by both binaries.
type Config struct {
	Target  TargetConfig  `toml:"target"`
	Deploy  DeployConfig  `toml:"deploy"`
	Env     EnvConfig     `toml:"env"`
	Service ServiceConfig `toml:"service"`
	Agent   AgentConfig   `toml:"agent"`
	Notify  NotifyConfig  `toml:"notify"`
}

// Policy builds the envfile policy from the env section.
func (c Config) Policy() envfile.Policy {
	return envfile.Policy{
		Secrets:  c.Env.Secrets,
		Tunables: c.Env.Tunables,
	}
}

// HeartbeatInterval parses the agent heartbeat with a default.
func (c Config) HeartbeatInterval() (time.Duration, error) {
	raw := strings.TrimSpace(c.Agent.Heartbeat)
	if raw == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config parse heartbeat: %w", err)
	}
	return d, nil
}

// DialTimeout parses the SSH dial timeout with a default.
func (c Config) DialTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Target.DialTimeout)
	if raw == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config parse dial_timeout: %w", err)
	}
	return d, nil
}

// Load reads and validates deployctl.toml.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Target.Port) == "" {
		cfg.Target.Port = "22"
	}
	if strings.TrimSpace(cfg.Deploy.Branch) == "" {
		cfg.Deploy.Branch = "main"
	}
	if strings.TrimSpace(cfg.Agent.Heartbeat) == "" {
		cfg.Agent.Heartbeat = "30s"
	}
	if strings.TrimSpace(cfg.Agent.JournalPath) == "" {
		cfg.Agent.JournalPath = "/var/lib/deployctl/deploys.db"
	}
}

// Validate checks the sections every binary depends on. Target is only
// required for direct SSH mode and is validated at use.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Deploy.Root) == "" {
		return fmt.Errorf("config missing deploy.root")
	}
	if strings.TrimSpace(cfg.Env.Path) == "" {
		return fmt.Errorf("config missing env.path")
	}
	if len(cfg.Env.Secrets) == 0 {
		return fmt.Errorf("config missing env.secrets")
	}
	if strings.TrimSpace(cfg.Service.Unit) == "" {
		return fmt.Errorf("config missing service.unit")
	}
	if err := cfg.Policy().Validate(); err != nil {
		return fmt.Errorf("config env policy invalid: %w", err)
	}
	if _, err := cfg.HeartbeatInterval(); err != nil {
		return err
	}
	if _, err := cfg.DialTimeout(); err != nil {
		return err
	}
	return nil
}

// ValidateTarget checks the SSH section for direct mode.
func ValidateTarget(cfg TargetConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("config missing target.host")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("config missing target.user")
	}
	if strings.TrimSpace(cfg.KeyPath) == "" {
		return fmt.Errorf("config missing target.key_path")
	}
	return nil
}

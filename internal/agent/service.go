package agent

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/deployctl/internal/auth"
	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/deploy"
	"github.com/danmuck/deployctl/internal/journal"
	logs "github.com/danmuck/deployctl/internal/logging"
	"github.com/danmuck/deployctl/internal/notify"
	"github.com/danmuck/deployctl/internal/observability"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/sysd"
	"github.com/danmuck/deployctl/internal/tools"
)

var (
	ErrAdminAddrRequired = errors.New("agent: admin listen address is required")
	ErrDeployInProgress  = errors.New("agent: deploy already in progress")
)

// Service runs the deployd lifecycle as a standalone process.
type Service struct {
	cfg       config.Config
	heartbeat time.Duration

	journal  *journal.Journal
	notifier *notify.Notifier
	sup      *sysd.Supervisor
	secrets  deploy.SecretSource
	runner   tools.CommandRunner
	admin    auth.Validator

	deployMu    sync.Mutex
	deploying   atomic.Bool
	clientCount atomic.Int64
	startedAt   time.Time
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	defer s.shutdown()
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if err := config.Validate(s.cfg); err != nil {
		return err
	}
	if strings.TrimSpace(s.cfg.Agent.AdminAddr) == "" {
		return ErrAdminAddrRequired
	}
	heartbeat, err := s.cfg.HeartbeatInterval()
	if err != nil {
		return err
	}
	s.heartbeat = heartbeat

	observability.RegisterMetrics()

	j, err := journal.Open(s.cfg.Agent.JournalPath)
	if err != nil {
		return err
	}
	s.journal = j

	if s.runner == nil {
		s.runner = remote.LocalRunner{Dir: s.cfg.Deploy.Root}
	}
	sup, err := sysd.NewSupervisor(s.cfg.Service.Unit, s.runner)
	if err != nil {
		return err
	}
	s.sup = sup

	if s.secrets == nil {
		s.secrets = deploy.FileSource{Path: s.cfg.Deploy.SecretSource}
	}
	s.loadAdminAuth()
	s.notifier = notify.New(notify.Config{
		BotToken: s.cfg.Notify.BotToken,
		ChatID:   s.cfg.Notify.ChatID,
	})
	s.startedAt = time.Now().UTC()

	logs.Infof(
		"agent.Service.bootstrap ready unit=%q root=%q admin_addr=%q journal=%q notify_enabled=%v",
		s.cfg.Service.Unit,
		s.cfg.Deploy.Root,
		s.cfg.Agent.AdminAddr,
		s.cfg.Agent.JournalPath,
		s.notifier.Enabled(),
	)
	return nil
}

// loadAdminAuth arms control-endpoint auth with the ADMIN_TOKEN secret.
// A missing token leaves the endpoint open, which suits the default
// loopback-only listen address.
func (s *Service) loadAdminAuth() {
	if s.admin != nil {
		return
	}
	trusted, err := s.secrets.Trusted()
	if err != nil {
		logs.Warnf("agent.Service.loadAdminAuth secret source unavailable err=%v", err)
		return
	}
	token := strings.TrimSpace(trusted[adminTokenKey])
	if token == "" {
		logs.Warnf("agent.Service.loadAdminAuth control endpoint is unauthenticated key=%s", adminTokenKey)
		return
	}
	s.admin = auth.StaticToken{Token: token}
}

func (s *Service) shutdown() {
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

// serve runs the heartbeat loop alongside the control and metrics listeners.
func (s *Service) serve(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	controlErr := make(chan error, 1)
	go func() {
		controlErr <- s.serveControl(ctx, s.cfg.Agent.AdminAddr)
	}()

	metricsErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.Agent.MetricsAddr) != "" {
		go func() {
			metricsErr <- s.serveMetrics(ctx, s.cfg.Agent.MetricsAddr)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			logs.Infof("agent.Service.serve shutdown")
			return nil
		case err := <-controlErr:
			if err != nil {
				return err
			}
		case err := <-metricsErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			_, state, err := s.sup.IsActive()
			if err != nil {
				state = "unknown"
			}
			logs.Infof(
				"agent.Service.heartbeat unit=%q state=%q deploying=%v admin_clients=%d",
				s.cfg.Service.Unit,
				state,
				s.deploying.Load(),
				s.clientCount.Load(),
			)
		}
	}
}

func (s *Service) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logs.Infof("agent.metrics listening addr=%q", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runDeploy executes one pipeline run and records it. Runs are serialized:
// a second request while one is in flight fails fast instead of queueing.
func (s *Service) runDeploy(ctx context.Context, trigger deploy.Trigger, confirmed bool) (deploy.Report, error) {
	if !s.deployMu.TryLock() {
		return deploy.Report{}, ErrDeployInProgress
	}
	defer s.deployMu.Unlock()
	s.deploying.Store(true)
	defer s.deploying.Store(false)

	pipeline, err := deploy.NewPipeline(deploy.Config{
		Root:           s.cfg.Deploy.Root,
		RepoURL:        s.cfg.Deploy.RepoURL,
		Branch:         s.cfg.Deploy.Branch,
		InstallCommand: s.cfg.Deploy.InstallCommand,
		EnvPath:        s.cfg.Env.Path,
		Policy:         s.cfg.Policy(),
		Unit:           s.cfg.Service.Unit,
	}, deploy.Options{
		Runner:  s.runner,
		Secrets: s.secrets,
		Confirm: func(string) bool { return confirmed },
	})
	if err != nil {
		return deploy.Report{}, err
	}

	report, runErr := pipeline.Run(ctx, trigger)
	if runErr != nil && report.DeployID == "" {
		return deploy.Report{}, runErr
	}

	if err := s.journal.Record(ctx, report); err != nil {
		logs.Errorf("agent.Service.runDeploy journal write failed deploy_id=%q err=%v", report.DeployID, err)
	}
	_ = s.notifier.DeployReport(ctx, report)
	return report, runErr
}

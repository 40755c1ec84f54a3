package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/danmuck/deployctl/internal/deploy"
	"github.com/danmuck/deployctl/internal/envfile"
	logs "github.com/danmuck/deployctl/internal/logging"
	"github.com/danmuck/deployctl/internal/observability"
)

// adminTokenKey is the secret env key whose value guards the control
// endpoint.
const adminTokenKey = "ADMIN_TOKEN"

// ControlRequest is one admin action envelope consumed by deployctl.
type ControlRequest struct {
	Action    string `json:"action"`
	Token     string `json:"token,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	DeployID  string `json:"deploy_id,omitempty"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
	Lines     int    `json:"lines,omitempty"`
}

// ControlResponse is one admin action result envelope.
type ControlResponse struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusView is the status action payload.
type StatusView struct {
	Unit           string         `json:"unit"`
	UnitState      string         `json:"unit_state"`
	UnitActive     bool           `json:"unit_active"`
	Branch         string         `json:"branch"`
	Deploying      bool           `json:"deploying"`
	AgentStartedAt time.Time      `json:"agent_started_at"`
	LastDeploy     *DeploySummary `json:"last_deploy,omitempty"`
}

// DeploySummary is the compact journal row used in status and history views.
type DeploySummary struct {
	DeployID   string    `json:"deploy_id"`
	Trigger    string    `json:"trigger"`
	Branch     string    `json:"branch"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func summarize(report deploy.Report) DeploySummary {
	return DeploySummary{
		DeployID:   report.DeployID,
		Trigger:    string(report.Trigger),
		Branch:     report.Branch,
		Outcome:    report.Outcome,
		Error:      report.Error,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
}

// serveControl exposes the TCP JSON request/response endpoint for deployctl.
func (s *Service) serveControl(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	defer ln.Close()
	logs.Infof("agent.control listening addr=%q", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleControlConn(ctx, conn)
	}
}

// handleControlConn decodes one request per line and writes one response per line.
func (s *Service) handleControlConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	logs.Infof("agent.control client connected remote=%q active_clients=%d", remote, active)
	defer func() {
		remaining := s.clientCount.Add(-1)
		logs.Infof("agent.control client disconnected remote=%q active_clients=%d", remote, remaining)
	}()

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Minute))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				logs.Warnf("agent.control read err=%v", err)
			}
			return
		}
		var req ControlRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeControlResponse(conn, ControlResponse{OK: false, Error: err.Error()})
			continue
		}
		resp := s.HandleControlRequest(ctx, req)
		if err := writeControlResponse(conn, resp); err != nil {
			logs.Warnf("agent.control write err=%v", err)
			return
		}
	}
}

// HandleControlRequest dispatches one admin action to service methods.
func (s *Service) HandleControlRequest(ctx context.Context, req ControlRequest) ControlResponse {
	if s.admin != nil {
		if err := s.admin.Validate(req.Token); err != nil {
			observability.RecordAdminRequest(req.Action, false)
			return ControlResponse{OK: false, Error: err.Error()}
		}
	}
	resp := s.dispatch(ctx, req)
	observability.RecordAdminRequest(req.Action, resp.OK)
	return resp
}

func (s *Service) dispatch(ctx context.Context, req ControlRequest) ControlResponse {
	switch req.Action {
	case "status":
		return okResponse(s.statusView(ctx))
	case "deploy":
		return s.handleDeploy(ctx, req)
	case "recent_deploys":
		reports, err := s.journal.Recent(ctx, req.Limit)
		if err != nil {
			return errResponse(err)
		}
		summaries := make([]DeploySummary, 0, len(reports))
		for _, report := range reports {
			summaries = append(summaries, summarize(report))
		}
		return okResponse(summaries)
	case "deploy_by_id":
		report, err := s.journal.ByID(ctx, req.DeployID)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(report)
	case "get_settings":
		settings, err := s.tunableSettings()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(settings)
	case "set_setting":
		if err := s.setSetting(req.Key, req.Value); err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]string{"key": req.Key, "value": req.Value})
	case "restart":
		// The restart gate lives with the operator; the agent only acts on
		// an explicit confirmation.
		if !req.Confirmed {
			return ControlResponse{OK: false, Error: "restart requires confirmation"}
		}
		if err := s.sup.Restart(); err != nil {
			return errResponse(err)
		}
		active, state, err := s.sup.IsActive()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]any{
			"unit":   s.cfg.Service.Unit,
			"state":  state,
			"active": active,
		})
	case "logs":
		output, err := s.sup.Logs(req.Lines)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]string{"unit": s.cfg.Service.Unit, "logs": output})
	default:
		return ControlResponse{OK: false, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
}

func (s *Service) statusView(ctx context.Context) StatusView {
	view := StatusView{
		Unit:           s.cfg.Service.Unit,
		UnitState:      "unknown",
		Branch:         s.cfg.Deploy.Branch,
		Deploying:      s.deploying.Load(),
		AgentStartedAt: s.startedAt,
	}
	if active, state, err := s.sup.IsActive(); err == nil {
		view.UnitActive = active
		view.UnitState = state
	}
	if reports, err := s.journal.Recent(ctx, 1); err == nil && len(reports) > 0 {
		summary := summarize(reports[0])
		view.LastDeploy = &summary
	}
	return view
}

func (s *Service) handleDeploy(ctx context.Context, req ControlRequest) ControlResponse {
	trigger := deploy.Trigger(strings.TrimSpace(req.Trigger))
	if trigger == "" {
		trigger = deploy.TriggerManual
	}
	report, err := s.runDeploy(ctx, trigger, req.Confirmed)
	if err != nil && report.DeployID == "" {
		return errResponse(err)
	}
	// A failed step still yields a journaled report; the outcome and error
	// fields carry the failure to the caller.
	return okResponse(report)
}

// tunableSettings returns the current value of every runtime-tunable key.
// Keys the env file does not define yet are reported as empty.
func (s *Service) tunableSettings() (map[string]string, error) {
	values, err := envfile.Load(s.cfg.Env.Path)
	if err != nil {
		if errors.Is(err, envfile.ErrFileMissing) {
			values = map[string]string{}
		} else {
			return nil, err
		}
	}
	settings := make(map[string]string, len(s.cfg.Env.Tunables))
	for _, key := range s.cfg.Env.Tunables {
		settings[key] = values[key]
	}
	return settings, nil
}

func (s *Service) setSetting(key string, value string) error {
	if err := envfile.SetKey(s.cfg.Env.Path, key, value, s.cfg.Policy()); err != nil {
		return err
	}
	logs.Infof("agent.Service.setSetting ok key=%s", key)
	return nil
}

func okResponse(data any) ControlResponse {
	payload, err := json.Marshal(data)
	if err != nil {
		return ControlResponse{OK: false, Error: err.Error()}
	}
	return ControlResponse{OK: true, Data: payload}
}

func errResponse(err error) ControlResponse {
	return ControlResponse{OK: false, Error: err.Error()}
}

func writeControlResponse(w io.Writer, resp ControlResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/deployctl/internal/agent"
	"github.com/danmuck/deployctl/internal/deploy"
)

// agentClient speaks the line-delimited JSON control protocol served by
// deployd.
type agentClient struct {
	addr  string
	token string
	conn  net.Conn
	r     *bufio.Reader
}

func dialAgent(addr string, timeout time.Duration, token string) (*agentClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", addr, err)
	}
	return &agentClient{addr: addr, token: token, conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *agentClient) Close() error {
	return c.conn.Close()
}

// do writes one request line and reads one response line.
func (c *agentClient) do(req agent.ControlRequest) (json.RawMessage, error) {
	req.Token = c.token
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("agent write: %w", err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("agent read: %w", err)
	}
	var resp agent.ControlResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("agent response decode: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("agent: %s", resp.Error)
	}
	return resp.Data, nil
}

func (c *agentClient) Status() (agent.StatusView, error) {
	data, err := c.do(agent.ControlRequest{Action: "status"})
	if err != nil {
		return agent.StatusView{}, err
	}
	var view agent.StatusView
	if err := json.Unmarshal(data, &view); err != nil {
		return agent.StatusView{}, err
	}
	return view, nil
}

func (c *agentClient) Deploy(trigger deploy.Trigger, confirmed bool) (deploy.Report, error) {
	data, err := c.do(agent.ControlRequest{
		Action:    "deploy",
		Trigger:   string(trigger),
		Confirmed: confirmed,
	})
	if err != nil {
		return deploy.Report{}, err
	}
	var report deploy.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return deploy.Report{}, err
	}
	return report, nil
}

func (c *agentClient) Restart() error {
	_, err := c.do(agent.ControlRequest{Action: "restart", Confirmed: true})
	return err
}

func (c *agentClient) Logs(lines int) (string, error) {
	data, err := c.do(agent.ControlRequest{Action: "logs", Lines: lines})
	if err != nil {
		return "", err
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	return out["logs"], nil
}

func (c *agentClient) Recent(limit int) ([]agent.DeploySummary, error) {
	data, err := c.do(agent.ControlRequest{Action: "recent_deploys", Limit: limit})
	if err != nil {
		return nil, err
	}
	var summaries []agent.DeploySummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (c *agentClient) ByID(deployID string) (deploy.Report, error) {
	data, err := c.do(agent.ControlRequest{Action: "deploy_by_id", DeployID: deployID})
	if err != nil {
		return deploy.Report{}, err
	}
	var report deploy.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return deploy.Report{}, err
	}
	return report, nil
}

func (c *agentClient) GetSettings() (map[string]string, error) {
	data, err := c.do(agent.ControlRequest{Action: "get_settings"})
	if err != nil {
		return nil, err
	}
	var settings map[string]string
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (c *agentClient) SetSetting(key, value string) error {
	_, err := c.do(agent.ControlRequest{Action: "set_setting", Key: key, Value: value})
	return err
}

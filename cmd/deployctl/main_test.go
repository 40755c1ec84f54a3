package main

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/danmuck/deployctl/internal/agent"
	"github.com/danmuck/deployctl/internal/deploy"
)

func TestParseConfirmation(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{" YES \n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
	}
	for _, tc := range cases {
		if got := parseConfirmation(tc.line); got != tc.want {
			t.Errorf("parseConfirmation(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

// fakeAgent answers control requests with canned responses keyed by action.
func fakeAgent(t *testing.T, responses map[string]agent.ControlResponse) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadBytes('\n')
					if err != nil {
						return
					}
					var req agent.ControlRequest
					if err := json.Unmarshal(line, &req); err != nil {
						return
					}
					resp, ok := responses[req.Action]
					if !ok {
						resp = agent.ControlResponse{OK: false, Error: "unexpected action"}
					}
					payload, _ := json.Marshal(resp)
					payload = append(payload, '\n')
					if _, err := conn.Write(payload); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func okData(t *testing.T, data any) agent.ControlResponse {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return agent.ControlResponse{OK: true, Data: payload}
}

func TestAgentClientStatus(t *testing.T) {
	addr := fakeAgent(t, map[string]agent.ControlResponse{
		"status": okData(t, agent.StatusView{
			Unit:       "melody-bot.service",
			UnitState:  "active",
			UnitActive: true,
			Branch:     "main",
		}),
	})

	client, err := dialAgent(addr, time.Second, "adm-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	view, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.UnitActive || view.Unit != "melody-bot.service" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestAgentClientDeployCarriesTriggerAndReport(t *testing.T) {
	addr := fakeAgent(t, map[string]agent.ControlResponse{
		"deploy": okData(t, deploy.Report{
			DeployID: "dep-1",
			Trigger:  deploy.TriggerCI,
			Outcome:  deploy.OutcomeSuccess,
		}),
	})

	client, err := dialAgent(addr, time.Second, "adm-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	report, err := client.Deploy(deploy.TriggerCI, true)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if report.DeployID != "dep-1" || report.Outcome != deploy.OutcomeSuccess {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAgentClientSurfacesErrors(t *testing.T) {
	addr := fakeAgent(t, map[string]agent.ControlResponse{
		"set_setting": {OK: false, Error: "envfile: key is not runtime-tunable: LOG_LEVEL"},
	})

	client, err := dialAgent(addr, time.Second, "adm-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.SetSetting("LOG_LEVEL", "debug"); err == nil {
		t.Fatalf("expected error from agent")
	}
}

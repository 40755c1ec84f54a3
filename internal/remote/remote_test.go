package remote

import (
	"bytes"
	"strings"
	"testing"
)

func TestJoinCommandEscapesArguments(t *testing.T) {
	cases := []struct {
		name string
		cmd  string
		args []string
		want string
	}{
		{name: "bare command", cmd: "systemctl", want: "'systemctl'"},
		{
			name: "args are quoted",
			cmd:  "systemctl",
			args: []string{"restart", "melody-bot.service"},
			want: "'systemctl' 'restart' 'melody-bot.service'",
		},
		{
			name: "single quotes survive",
			cmd:  "echo",
			args: []string{"it's fine"},
			want: `'echo' 'it'"'"'s fine'`,
		},
		{
			name: "empty arg stays an arg",
			cmd:  "echo",
			args: []string{""},
			want: "'echo' ''",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := joinCommand(tc.cmd, tc.args); got != tc.want {
				t.Fatalf("joinCommand = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAddressDefaultsPort(t *testing.T) {
	cases := []struct {
		name   string
		runner SSHRunner
		want   string
	}{
		{name: "port 22 default", runner: SSHRunner{Host: "bot.example.com"}, want: "bot.example.com:22"},
		{name: "explicit port field", runner: SSHRunner{Host: "bot.example.com", Port: "2222"}, want: "bot.example.com:2222"},
		{name: "port embedded in host", runner: SSHRunner{Host: "bot.example.com:2200"}, want: "bot.example.com:2200"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.runner.address()
			if err != nil {
				t.Fatalf("address: %v", err)
			}
			if got != tc.want {
				t.Fatalf("address = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAddressRequiresHost(t *testing.T) {
	if _, err := (SSHRunner{}).address(); err == nil {
		t.Fatalf("expected error for empty host")
	}
}

func TestClientConfigRequiresUserAndKey(t *testing.T) {
	if _, err := (SSHRunner{Host: "h"}).clientConfig(); err == nil || !strings.Contains(err.Error(), "user") {
		t.Fatalf("expected user error, got %v", err)
	}
	if _, err := (SSHRunner{Host: "h", User: "deploy"}).clientConfig(); err == nil || !strings.Contains(err.Error(), "key path") {
		t.Fatalf("expected key path error, got %v", err)
	}
}

func TestLocalRunnerExecutes(t *testing.T) {
	runner := LocalRunner{}
	stdout, _, exitCode, err := runner.Run("echo", "hello")
	if err != nil || exitCode != 0 {
		t.Fatalf("run: exit=%d err=%v", exitCode, err)
	}
	if strings.TrimSpace(string(stdout)) != "hello" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestLocalRunnerStreams(t *testing.T) {
	var stdout bytes.Buffer
	runner := LocalRunner{}
	if err := runner.RunStreaming("echo", []string{"streamed"}, &stdout, nil); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "streamed" {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestLocalRunnerMapsMissingBinary(t *testing.T) {
	runner := LocalRunner{}
	_, _, exitCode, err := runner.Run("definitely-not-a-binary-xyz")
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
	if exitCode != 127 {
		t.Fatalf("unexpected exit code: %d", exitCode)
	}
}

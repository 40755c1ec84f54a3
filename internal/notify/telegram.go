// Package notify pushes deploy outcomes to a Telegram chat via the Bot
// API. Notifications are best effort: a failed send never fails a deploy.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/deployctl/internal/deploy"
	logs "github.com/danmuck/deployctl/internal/logging"
)

var ErrSendFailed = errors.New("notify: telegram send failed")

const defaultAPIBase = "https://api.telegram.org"

// Config holds notifier settings; an empty token or chat id disables it.
type Config struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
}

type Notifier struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Notifier {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether the notifier has a destination configured.
func (n *Notifier) Enabled() bool {
	return strings.TrimSpace(n.cfg.BotToken) != "" && strings.TrimSpace(n.cfg.ChatID) != ""
}

// DeployReport sends a summary of one pipeline run. Disabled notifiers
// return nil.
func (n *Notifier) DeployReport(ctx context.Context, report deploy.Report) error {
	if !n.Enabled() {
		return nil
	}
	if err := n.sendMessage(ctx, FormatReport(report)); err != nil {
		logs.Warnf("notify.DeployReport failed deploy_id=%q err=%v", report.DeployID, err)
		return err
	}
	return nil
}

// FormatReport renders the human-readable notification text.
func FormatReport(report deploy.Report) string {
	var builder strings.Builder
	switch report.Outcome {
	case deploy.OutcomeSuccess:
		builder.WriteString("✅ deploy succeeded")
	case deploy.OutcomeGated:
		builder.WriteString("⏸ deploy staged, restart pending confirmation")
	default:
		builder.WriteString("❌ deploy failed")
	}
	fmt.Fprintf(&builder, "\nid: %s", report.DeployID)
	fmt.Fprintf(&builder, "\ntrigger: %s branch: %s", report.Trigger, report.Branch)
	fmt.Fprintf(&builder, "\nduration: %s", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.Error != "" {
		fmt.Fprintf(&builder, "\nerror: %s", report.Error)
	}
	return builder.String()
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": n.cfg.ChatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.cfg.APIBase, "/"), n.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status=%d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// Package slack sends case alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/notify"
	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

const (
	maxRationaleLen = 3000
	httpTimeout     = 10 * time.Second
)

// ChannelName is the name the router uses for this channel.
const ChannelName = "slack"

var errNoWebhook = errors.New("slack: no webhook url configured")

// Notifier posts case alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. A routed message address overrides webhookURL.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Name implements notify.Channel.
func (n *Notifier) Name() string { return ChannelName }

// Send posts the alert. 4xx responses are permanent; 5xx and transport
// errors are retried by the dispatcher.
func (n *Notifier) Send(ctx context.Context, m *notify.Message) error {
	url := m.Address
	if url == "" {
		url = n.webhookURL
	}
	if url == "" {
		return notify.Permanent(errNoWebhook)
	}

	body, err := json.Marshal(buildMessage(m))
	if err != nil {
		return notify.Permanent(fmt.Errorf("slack: marshal message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return notify.Permanent(fmt.Errorf("slack: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhook URL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		n.logger.Warn(ctx, "slack rejected alert, not retrying", "status", resp.StatusCode, "case_id", m.CaseID)
		return notify.Permanent(err)
	}
	return err
}

func buildMessage(m *notify.Message) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(m),
			{"type": "divider"},
			fieldsBlock(m),
			{"type": "divider"},
			rationaleBlock(m),
			{"type": "divider"},
			contextBlock(m),
		},
	}
}

func headerBlock(m *notify.Message) map[string]any {
	text := fmt.Sprintf("%s %s urgency: %s", tierEmoji(m.Tier), titleCase(string(m.Tier)), m.Domain)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(m *notify.Message) map[string]any {
	respondBy := "n/a"
	if !m.SLADeadline.IsZero() {
		respondBy = m.SLADeadline.UTC().Format("2006-01-02 15:04 UTC")
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Subject:* %s", m.SubjectID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Domain:* %s", m.Domain),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tier:* %s", m.Tier),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Respond by:* %s", respondBy),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func rationaleBlock(m *notify.Message) map[string]any {
	var b strings.Builder
	for _, r := range m.Rationale {
		b.WriteString("• ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	text := truncate(strings.TrimSuffix(b.String(), "\n"), maxRationaleLen)
	if text == "" {
		text = "_No rationale provided._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rationale*\n\n%s", text),
		},
	}
}

func contextBlock(m *notify.Message) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("wardwatch • case %s • acknowledge via the triage API", m.CaseID),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func tierEmoji(t urgency.Tier) string {
	switch t {
	case urgency.TierCritical:
		return "\U0001f534" // red circle
	case urgency.TierHigh:
		return "\U0001f7e0" // orange circle
	case urgency.TierModerate:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

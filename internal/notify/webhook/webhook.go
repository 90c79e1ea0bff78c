// Package webhook delivers case alerts as JSON to a pager or SMS gateway.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/notify"
)

// ChannelName is the name the router uses for this channel.
const ChannelName = "webhook"

const httpTimeout = 10 * time.Second

var errNoURL = errors.New("webhook: no url configured")

// Notifier posts case alerts to an HTTP endpoint.
type Notifier struct {
	url    string
	token  string
	client *http.Client
	logger log.Logger
}

// New creates a webhook notifier. token, when set, is sent as a bearer
// credential. A routed message address overrides url.
func New(url, token string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}
}

// Name implements notify.Channel.
func (n *Notifier) Name() string { return ChannelName }

type payload struct {
	*notify.Message
	Event  string    `json:"event"`
	SentAt time.Time `json:"sent_at"`
}

// Send posts the message. Client errors other than 429 are permanent.
func (n *Notifier) Send(ctx context.Context, m *notify.Message) error {
	url := m.Address
	if url == "" {
		url = n.url
	}
	if url == "" {
		return notify.Permanent(errNoURL)
	}

	body, err := json.Marshal(payload{Message: m, Event: "case.alert", SentAt: time.Now().UTC()})
	if err != nil {
		return notify.Permanent(fmt.Errorf("webhook: marshal message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return notify.Permanent(fmt.Errorf("webhook: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.CaseID+":"+string(m.Tier))
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req) //nolint:gosec // G704: gateway URL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("webhook: gateway returned %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		n.logger.Warn(ctx, "gateway rejected alert, not retrying", "status", resp.StatusCode, "case_id", m.CaseID)
		return notify.Permanent(err)
	}
	return err
}

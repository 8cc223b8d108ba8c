package alerting

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

	"github.com/rs/zerolog"
)

// WebhookNotifier posts events as JSON to a single URL (Discord/Slack style "content" field).
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

type webhookPayload struct {
	Content string `json:"content"`
	Event   Event  `json:"event"`
}

// NewWebhookNotifier builds a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}, nil
}

// Notify posts ev.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{Content: RenderPlain(ev), Event: ev})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: webhook returned %d", ErrDestinationUnresolved, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info().Str("kind", string(ev.Kind)).Str("asset", ev.AssetID).Msg("alert sent (webhook)")
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)

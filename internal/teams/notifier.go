package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/pkg/httpretry"
	"github.com/ignite/alertflow/internal/pkg/logger"
)

// Notifier posts incident cards to channel webhooks resolved by team.
type Notifier struct {
	cfg        config.TeamsConfig
	httpClient httpretry.HTTPDoer
}

// NewNotifier builds a notifier from Teams config.
func NewNotifier(cfg config.TeamsConfig) *Notifier {
	return &Notifier{
		cfg: cfg,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// Enabled reports whether notifications should be sent at all.
func (n *Notifier) Enabled() bool { return n.cfg.Enabled }

// Notify resolves the webhook for the team and posts the card.
// Returns the channel the card went to.
func (n *Notifier) Notify(ctx context.Context, team string, in CardInput) (string, error) {
	if !n.cfg.Enabled {
		return "", fmt.Errorf("teams notifications disabled")
	}
	webhook := n.cfg.WebhookForTeam(team)
	if webhook == "" {
		return "", fmt.Errorf("no webhook for team %q", team)
	}

	payload, err := json.Marshal(BuildCard(in))
	if err != nil {
		return "", fmt.Errorf("marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook post to %s: %w", logger.RedactWebhookURL(webhook), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook post to %s: status %d", logger.RedactWebhookURL(webhook), resp.StatusCode)
	}

	log.Printf("[Teams] notification sent to %s channel", team)
	return team, nil
}

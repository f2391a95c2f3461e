package notifier

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"challenge_server/internal/domain"
	applogger "challenge_server/internal/infra/logger"
)

type channel struct {
	name string
	url  string
}

// WebhookNotifier fans alerts out to the configured channel webhooks.
// Delivery is best effort: a dead channel is logged and skipped, never
// propagated to the caller.
type WebhookNotifier struct {
	client   *resty.Client
	channels []channel
}

type Channels struct {
	EmailWebhook string
	ChatWebhook  string
	SMSWebhook   string
}

func NewWebhookNotifier(cfg Channels) *WebhookNotifier {
	n := &WebhookNotifier{
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(10 * time.Second),
	}

	if cfg.EmailWebhook != "" {
		n.channels = append(n.channels, channel{name: "email", url: cfg.EmailWebhook})
	}
	if cfg.ChatWebhook != "" {
		n.channels = append(n.channels, channel{name: "chat", url: cfg.ChatWebhook})
	}
	if cfg.SMSWebhook != "" {
		n.channels = append(n.channels, channel{name: "sms", url: cfg.SMSWebhook})
	}

	return n
}

func (n *WebhookNotifier) Dispatch(ctx context.Context, alert domain.MonitoringAlert) []string {
	log := applogger.Component("notifier")

	body := map[string]any{
		"alert_id":  alert.ID,
		"challenge": alert.ChallengeID,
		"level":     alert.Level,
		"kind":      alert.Kind,
		"message":   alert.Message,
		"sent_at":   alert.SentAt,
	}

	attempted := make([]string, 0, len(n.channels))
	for _, ch := range n.channels {
		attempted = append(attempted, ch.name)

		resp, err := n.client.R().
			SetContext(ctx).
			SetBody(body).
			Post(ch.url)
		if err != nil {
			log.Error().Err(err).Str("channel", ch.name).Str("alert", alert.ID).Msg("dispatch alert")
			continue
		}
		if resp.StatusCode() >= 400 {
			log.Error().Int("status", resp.StatusCode()).Str("channel", ch.name).Str("alert", alert.ID).Msg("alert webhook rejected")
		}
	}

	return attempted
}

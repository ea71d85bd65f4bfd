package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stakeops/warden/pkg/types"
)

// webhookTimeout bounds a single delivery attempt
const webhookTimeout = 10 * time.Second

// WebhookNotifier posts alerts as JSON to a configured URL
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a notifier for the given webhook URL
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(webhookTimeout).
		SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{
		client: client,
		url:    url,
	}
}

// Send delivers one alert. Non-2xx responses count as delivery failures.
func (w *WebhookNotifier) Send(ctx context.Context, alert *types.Alert) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(alert).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aeluslabs/tenantgate/internal/circuitbreaker"
	"github.com/aeluslabs/tenantgate/internal/httputil"
)

// WebhookNotifier delivers notifications to per-tenant webhook URLs. Each
// URL gets its own circuit breaker so one broken endpoint cannot slow
// delivery to the rest.
type WebhookNotifier struct {
	client   *http.Client
	breakers *circuitbreaker.Manager
}

func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		client:   httputil.DefaultClient(),
		breakers: circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
	}
}

func NewWebhookNotifierWithClient(client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{
		client:   client,
		breakers: circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
	}
}

// Deliver POSTs the notification to url as JSON. Non-2xx responses count
// as failures against the endpoint's breaker.
func (n *WebhookNotifier) Deliver(ctx context.Context, url string, notification Notification) error {
	cb := n.breakers.Get(url)
	if err := cb.Allow(ctx); err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		cb.RecordFailure(ctx)
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cb.RecordFailure(ctx)
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}

	cb.RecordSuccess(ctx)
	slog.Info("webhook delivered",
		"url", url,
		"type", notification.Type,
		"tenant_id", notification.TenantID,
	)
	return nil
}

// States exposes breaker states for health reporting.
func (n *WebhookNotifier) States() map[string]string {
	return n.breakers.States()
}

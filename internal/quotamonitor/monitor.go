// Package quotamonitor watches tenant usage against configured quotas and
// raises alerts as consumption crosses warning/critical/exceeded
// thresholds. Alerts deduplicate per tenant+resource+level so a tenant
// sitting at 85% does not page on every check.
package quotamonitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/metrics"
	"github.com/aeluslabs/tenantgate/internal/notifications"
	"github.com/aeluslabs/tenantgate/internal/quota"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	TenantID   string
	Resource   string
	Level      AlertLevel
	Limit      int64
	CurrentUse int64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(alert Alert)

type Monitor struct {
	mu         sync.RWMutex
	ledger     quota.Ledger
	handlers   []AlertHandler
	thresholds Thresholds
	lastAlerts map[string]AlertLevel // tenantID:resource -> last raised level
}

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

func NewMonitor(ledger quota.Ledger, thresholds Thresholds) *Monitor {
	return &Monitor{
		ledger:     ledger,
		thresholds: thresholds,
		handlers:   make([]AlertHandler, 0),
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Check compares a tenant's current usage against its quotas and raises
// at most one alert per resource whose level changed since the last
// check. The returned slice holds the alerts raised this round.
func (m *Monitor) Check(ctx context.Context, tenant *domain.Tenant) ([]Alert, error) {
	usage, err := m.ledger.GetUsage(ctx, tenant.ID.String())
	if err != nil {
		return nil, err
	}

	quotas := tenant.Quotas
	if len(quotas) == 0 {
		quotas = domain.DefaultQuotas()
	}

	checks := []struct {
		resource string
		current  int64
		limit    int64
	}{
		{domain.ResourceVectorCount, usage.VectorCount, quotas[domain.QuotaVectors]},
		{domain.ResourceStorageBytes, usage.StorageBytes, quotas[domain.QuotaStorageGB] * 1024 * 1024 * 1024},
	}

	var raised []Alert
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		metrics.SetQuotaUsage(tenant.ID.String(), c.resource, c.current)

		if alert := m.evaluate(tenant.ID.String(), c.resource, c.current, c.limit); alert != nil {
			raised = append(raised, *alert)
		}
	}

	if len(raised) > 0 {
		m.mu.RLock()
		handlers := make([]AlertHandler, len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.RUnlock()

		for _, alert := range raised {
			for _, handler := range handlers {
				handler(alert)
			}
		}
	}

	return raised, nil
}

func (m *Monitor) evaluate(tenantID, resource string, current, limit int64) *Alert {
	percentage := float64(current) / float64(limit)
	key := tenantID + ":" + resource

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= m.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.mu.Lock()
		delete(m.lastAlerts, key)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastAlerts[key]; ok && last == level {
		return nil
	}
	m.lastAlerts[key] = level

	return &Alert{
		TenantID:   tenantID,
		Resource:   resource,
		Level:      level,
		Limit:      limit,
		CurrentUse: current,
		Percentage: percentage * 100,
		Timestamp:  time.Now(),
	}
}

// IsExceeded reports whether any monitored resource is at or over its
// limit.
func (m *Monitor) IsExceeded(ctx context.Context, tenant *domain.Tenant) (bool, error) {
	usage, err := m.ledger.GetUsage(ctx, tenant.ID.String())
	if err != nil {
		return false, err
	}

	quotas := tenant.Quotas
	if len(quotas) == 0 {
		quotas = domain.DefaultQuotas()
	}

	if limit := quotas[domain.QuotaVectors]; limit > 0 && usage.VectorCount >= limit {
		return true, nil
	}
	if limit := quotas[domain.QuotaStorageGB] * 1024 * 1024 * 1024; limit > 0 && usage.StorageBytes >= limit {
		return true, nil
	}
	return false, nil
}

// RunPeriodic re-checks every listed tenant until ctx is cancelled.
func (m *Monitor) RunPeriodic(ctx context.Context, interval time.Duration, list func(context.Context) ([]*domain.Tenant, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := list(ctx)
			if err != nil {
				slog.Error("quota monitor tenant listing failed", "error", err)
				continue
			}
			for _, tenant := range tenants {
				if !tenant.Usable() {
					continue
				}
				if _, err := m.Check(ctx, tenant); err != nil {
					slog.Warn("quota check failed",
						"tenant_id", tenant.ID,
						"error", err,
					)
				}
			}
		}
	}
}

func LogAlertHandler(alert Alert) {
	slog.Warn("quota alert",
		"tenant_id", alert.TenantID,
		"resource", alert.Resource,
		"level", alert.Level,
		"limit", alert.Limit,
		"current_use", alert.CurrentUse,
		"percentage", alert.Percentage,
	)
}

// NotifierAlertHandler forwards alerts to an operator channel such as SNS.
func NotifierAlertHandler(notifier notifications.Notifier) AlertHandler {
	return func(alert Alert) {
		note := notifications.Notification{
			Type:     notificationType(alert.Level),
			TenantID: alert.TenantID,
			Resource: alert.Resource,
			Message:  alertMessage(alert),
			Data: map[string]interface{}{
				"limit":       alert.Limit,
				"current_use": alert.CurrentUse,
				"percentage":  alert.Percentage,
			},
		}
		if err := notifier.Send(context.Background(), note); err != nil {
			slog.Warn("quota alert notification failed",
				"tenant_id", alert.TenantID,
				"error", err,
			)
		}
	}
}

// WebhookAlertHandler delivers alerts to the tenant's own webhook, when
// one is configured.
func WebhookAlertHandler(webhooks *notifications.WebhookNotifier, lookup func(tenantID string) string) AlertHandler {
	return func(alert Alert) {
		url := lookup(alert.TenantID)
		if url == "" {
			return
		}
		note := notifications.Notification{
			Type:     notificationType(alert.Level),
			TenantID: alert.TenantID,
			Resource: alert.Resource,
			Message:  alertMessage(alert),
		}
		if err := webhooks.Deliver(context.Background(), url, note); err != nil {
			slog.Warn("quota alert webhook failed",
				"tenant_id", alert.TenantID,
				"error", err,
			)
		}
	}
}

func notificationType(level AlertLevel) notifications.NotificationType {
	switch level {
	case AlertLevelExceeded:
		return notifications.NotificationQuotaExceeded
	case AlertLevelCritical:
		return notifications.NotificationQuotaCritical
	default:
		return notifications.NotificationQuotaWarning
	}
}

func alertMessage(alert Alert) string {
	switch alert.Level {
	case AlertLevelExceeded:
		return alert.Resource + " quota exceeded"
	case AlertLevelCritical:
		return alert.Resource + " usage above critical threshold"
	default:
		return alert.Resource + " usage above warning threshold"
	}
}

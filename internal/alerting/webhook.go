package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/resilience"
)

// Notifier delivers alerts to the configured operator webhook.
type Notifier struct {
	cfg    config.AlertingConfig
	client *http.Client
	retry  resilience.RetryConfig
}

func NewNotifier(cfg config.AlertingConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Send delivers alerts to the webhook URL. Returns the number successfully
// sent; a missing URL means alerts are log-only.
func (n *Notifier) Send(ctx context.Context, alerts []Alert) int {
	if n.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := n.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("alerting: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("alerting: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
		)
		sent++
	}
	return sent
}

// sendWebhook posts one alert, retrying transient failures (network errors,
// 429, 5xx) with backoff. A 4xx other than 429 fails immediately.
func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "alerting: marshal alert")
	}

	retryCfg := n.retry
	retryCfg.OnRetry = resilience.RetryLogger("webhook", string(alert.Type))

	return resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "alerting: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "alerting: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("alerting: webhook returned status %d", resp.StatusCode)
			return resilience.MarkTransientStatus(err, resp.StatusCode)
		}
		return nil
	})
}

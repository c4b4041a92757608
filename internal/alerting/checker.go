package alerting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/config"
)

// Source is anything that can be polled for alerts over a trailing window.
// The drift and model-health analyzers both implement it.
type Source interface {
	Name() string
	CheckAlerts(ctx context.Context, since time.Time) ([]Alert, error)
}

// Checker polls every source on an interval and forwards triggered alerts
// to the notifier. One failing source never blocks the others.
type Checker struct {
	sources  []Source
	notifier *Notifier
	cfg      config.AlertingConfig
}

func NewChecker(notifier *Notifier, cfg config.AlertingConfig, sources ...Source) *Checker {
	return &Checker{
		sources:  sources,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "alerting.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_days", c.cfg.LookbackDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	since := time.Now().UTC().AddDate(0, 0, -c.cfg.LookbackDays)

	var triggered []Alert
	for _, src := range c.sources {
		alerts, err := src.CheckAlerts(ctx, since)
		if err != nil {
			log.Error("alerting: source check failed",
				zap.String("source", src.Name()),
				zap.Error(err))
			continue
		}
		triggered = append(triggered, alerts...)
	}
	if len(triggered) == 0 {
		log.Debug("alerting: no alerts triggered")
		return
	}

	sent := c.notifier.Send(ctx, triggered)
	log.Info("alerting: check complete",
		zap.Int("alerts_triggered", len(triggered)),
		zap.Int("alerts_sent", sent),
	)
}

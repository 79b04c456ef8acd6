package cron_feature

import (
	"context"
	"fmt"
	"time"

	"crm-hooks/internal/config"
	"crm-hooks/internal/features/webhook"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepScheduler periodically retries recent failed deliveries that still
// have attempt budget left.
type SweepScheduler struct {
	webhookService webhook.WebhookService
	config         *config.Config
	logger         *zap.Logger

	scheduler *cron.Cron
}

func NewSweepScheduler(webhookService webhook.WebhookService, cfg *config.Config, logger *zap.Logger) *SweepScheduler {
	return &SweepScheduler{
		webhookService: webhookService,
		config:         cfg,
		logger:         logger,
	}
}

func (s *SweepScheduler) InitializeScheduler(ctx context.Context) error {
	schedule := s.config.RetrySweepSchedule
	if schedule == "" {
		s.logger.Info("retry sweep disabled, no schedule configured")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid retry sweep schedule %q: %w", schedule, err)
	}

	maxAge := time.Duration(s.config.RetrySweepMaxAge) * time.Hour

	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc(schedule, func() {
		s.runSweep(maxAge)
	}); err != nil {
		return fmt.Errorf("failed to register retry sweep: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("retry sweep scheduled",
		zap.String("schedule", schedule),
		zap.Duration("max_age", maxAge),
	)
	return nil
}

func (s *SweepScheduler) StopScheduler() error {
	if s.scheduler != nil {
		ctx := s.scheduler.Stop()
		<-ctx.Done()
	}
	return nil
}

func (s *SweepScheduler) runSweep(maxAge time.Duration) {
	ctx := context.Background()
	retried, err := s.webhookService.RetrySweep(ctx, maxAge)
	if err != nil {
		s.logger.Error("retry sweep failed", zap.Error(err))
		return
	}
	if retried > 0 {
		s.logger.Info("retry sweep finished", zap.Int("retried", retried))
	}
}

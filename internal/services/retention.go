package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/metrics"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type RetentionStore interface {
	DeleteWhere(ctx context.Context, f models.UserFilter) (int64, error)
}

// RetentionService removes users who unsubscribed and have been inactive for
// longer than the threshold.
type RetentionService struct {
	store     RetentionStore
	threshold time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewRetentionService(store RetentionStore, threshold time.Duration, log *zap.Logger) *RetentionService {
	return &RetentionService{
		store:     store,
		threshold: threshold,
		now:       time.Now,
		log:       log.Named("retention"),
	}
}

func (s *RetentionService) Sweep(ctx context.Context) (int64, error) {
	if s.threshold <= 0 {
		return 0, nil
	}
	subscribed := false
	cutoff := s.now().Add(-s.threshold)
	n, err := s.store.DeleteWhere(ctx, models.UserFilter{Subscribed: &subscribed, InactiveBefore: cutoff})
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	metrics.RetentionDeleted.Add(float64(n))
	s.log.Info("retention sweep finished", zap.Int64("deleted", n), zap.Time("inactive_before", cutoff))
	return n, nil
}

// Schedule registers the sweep as a cron job on s. The crontab is evaluated
// in the scheduler's location unless it carries its own CRON_TZ prefix.
func (s *RetentionService) Schedule(ctx context.Context, scheduler gocron.Scheduler, crontab string) error {
	_, err := scheduler.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(
			func(ctx context.Context) {
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Error("retention sweep failed", zap.Error(err))
				}
			},
			ctx,
		),
		gocron.WithName("retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", crontab, err)
	}
	return nil
}

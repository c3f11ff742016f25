package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/metrics"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ReminderStore interface {
	SubscribedTimezones(ctx context.Context) ([]string, error)
	Scan(ctx context.Context, f models.UserFilter, fn func(models.UserProgress) error) error
	ClaimReminder(ctx context.Context, id int64, today models.Date) (bool, error)
	ReleaseReminder(ctx context.Context, id int64, claimed, previous models.Date) error
}

// ReminderContent decides who is nudged and with what text.
type ReminderContent interface {
	ReminderBody(u models.UserProgress) string
	WantsReminder(u models.UserProgress) bool
}

type ReminderConfig struct {
	Hour             int
	Minute           int
	Concurrency      int
	RecipientTimeout time.Duration
	RefreshInterval  time.Duration
}

type ReminderReport struct {
	Zone       string
	Date       models.Date
	Sent       int
	Duplicates int
	Skipped    int
	Failed     int
}

// ReminderScheduler keeps one daily gocron job per distinct subscribed timezone.
type ReminderScheduler struct {
	scheduler gocron.Scheduler
	store     ReminderStore
	menu      MenuShower
	content   ReminderContent
	cfg       ReminderConfig
	now       func() time.Time
	log       *zap.Logger

	mu   sync.Mutex
	base context.Context
	jobs map[string]uuid.UUID
}

func NewReminderScheduler(scheduler gocron.Scheduler, store ReminderStore, menu MenuShower, content ReminderContent, cfg ReminderConfig, log *zap.Logger) *ReminderScheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RecipientTimeout <= 0 {
		cfg.RecipientTimeout = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	return &ReminderScheduler{
		scheduler: scheduler,
		store:     store,
		menu:      menu,
		content:   content,
		cfg:       cfg,
		now:       time.Now,
		log:       log.Named("reminders"),
		base:      context.Background(),
		jobs:      make(map[string]uuid.UUID),
	}
}

// Start installs the per-zone jobs and a periodic job that keeps them in sync
// with the subscriber table. Reminder batches stop when ctx is done.
func (r *ReminderScheduler) Start(ctx context.Context) error {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial reminder refresh failed, will retry", zap.Error(err))
	}

	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.cfg.RefreshInterval),
		gocron.NewTask(
			func(ctx context.Context) {
				if err := r.Refresh(ctx); err != nil {
					r.log.Warn("reminder refresh failed", zap.Error(err))
				}
			},
			ctx,
		),
		gocron.WithName("reminder-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule reminder refresh: %w", err)
	}
	return nil
}

func (r *ReminderScheduler) crontab(zone string) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", zone, r.cfg.Minute, r.cfg.Hour)
}

// Refresh recomputes the distinct subscribed timezones and installs or removes
// jobs so that exactly one exists per zone.
func (r *ReminderScheduler) Refresh(ctx context.Context) error {
	zones, err := r.store.SubscribedTimezones(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	want := make(map[string]struct{}, len(zones))
	for _, zone := range zones {
		if zone == "" {
			continue
		}
		if _, err := time.LoadLocation(zone); err != nil {
			r.log.Warn("skipping unknown timezone", zap.String("zone", zone), zap.Error(err))
			continue
		}
		want[zone] = struct{}{}
		if _, ok := r.jobs[zone]; ok {
			continue
		}

		job, err := r.scheduler.NewJob(
			gocron.CronJob(r.crontab(zone), false),
			gocron.NewTask(r.run, zone),
			gocron.WithName("reminder:"+zone),
			gocron.WithTags("reminder"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule reminders for %s: %w", zone, err))
			continue
		}
		r.jobs[zone] = job.ID()
		r.log.Info("reminder job installed", zap.String("zone", zone), zap.String("crontab", r.crontab(zone)))
	}

	for zone, id := range r.jobs {
		if _, ok := want[zone]; ok {
			continue
		}
		if err := r.scheduler.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			errs = append(errs, fmt.Errorf("remove reminders for %s: %w", zone, err))
			continue
		}
		delete(r.jobs, zone)
		r.log.Info("reminder job removed", zap.String("zone", zone))
	}

	metrics.ReminderZones.Set(float64(len(r.jobs)))
	return errors.Join(errs...)
}

// Zones lists the timezones that currently have a job.
func (r *ReminderScheduler) Zones() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	zones := make([]string, 0, len(r.jobs))
	for zone := range r.jobs {
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return zones
}

// run is the job body. jobCtx is injected by gocron and ends when the job is
// removed; the batch also stops when the context given to Start is done.
func (r *ReminderScheduler) run(jobCtx context.Context, zone string) {
	r.mu.Lock()
	base := r.base
	r.mu.Unlock()
	ctx, cancel := context.WithCancel(base)
	defer cancel()
	stop := context.AfterFunc(jobCtx, cancel)
	defer stop()

	start := time.Now()
	report, err := r.FireZone(ctx, zone)
	fields := []zap.Field{
		zap.String("zone", zone),
		zap.Stringer("date", report.Date),
		zap.Int("sent", report.Sent),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		r.log.Error("reminder batch aborted", append(fields, zap.Error(err))...)
		return
	}
	r.log.Info("reminder batch finished", fields...)
}

// FireZone delivers today's reminder to every subscriber in zone. Failures are
// isolated per recipient. A store failure during the scan aborts the batch;
// recipients already claimed keep their claim only if delivery succeeded.
func (r *ReminderScheduler) FireZone(ctx context.Context, zone string) (ReminderReport, error) {
	report := ReminderReport{Zone: zone}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return report, fmt.Errorf("%w: %q", ErrInvalidTimezone, zone)
	}
	today := models.DateOf(r.now(), loc)
	report.Date = today

	var sent, duplicates, skipped, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)

	subscribed := true
	scanErr := r.store.Scan(ctx, models.UserFilter{Subscribed: &subscribed, Timezone: zone}, func(u models.UserProgress) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.content.WantsReminder(u) || u.LastReminderDate >= today {
			skipped.Add(1)
			metrics.Reminders.WithLabelValues("skipped").Inc()
			return nil
		}
		g.Go(func() error {
			switch r.remind(ctx, u, today) {
			case "sent":
				sent.Add(1)
			case "duplicate":
				duplicates.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
		return nil
	})
	_ = g.Wait()

	report.Sent = int(sent.Load())
	report.Duplicates = int(duplicates.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	return report, scanErr
}

func (r *ReminderScheduler) remind(ctx context.Context, u models.UserProgress, today models.Date) (outcome string) {
	defer func() { metrics.Reminders.WithLabelValues(outcome).Inc() }()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RecipientTimeout)
	defer cancel()

	claimed, err := r.store.ClaimReminder(ctx, u.ID, today)
	if err != nil {
		r.log.Warn("reminder claim failed", zap.Int64("user_id", u.ID), zap.Error(err))
		return "store_error"
	}
	if !claimed {
		return "duplicate"
	}

	err = r.menu.Show(ctx, u.ID, r.content.ReminderBody(u))
	if err == nil {
		return "sent"
	}
	if errors.Is(err, ErrRecipientUnreachable) {
		r.log.Info("reminder recipient unreachable", zap.Int64("user_id", u.ID))
		return "unreachable"
	}

	r.log.Warn("reminder not delivered", zap.Int64("user_id", u.ID), zap.Error(err))
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer rcancel()
	if err := r.store.ReleaseReminder(rctx, u.ID, today, u.LastReminderDate); err != nil {
		r.log.Error("reminder claim not released", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	return "failed"
}

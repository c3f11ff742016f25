package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/catalog"
	"github.com/ad/go-daily-tasks-bot/internal/config"
	"github.com/ad/go-daily-tasks-bot/internal/db"
	"github.com/ad/go-daily-tasks-bot/internal/handlers"
	"github.com/ad/go-daily-tasks-bot/internal/httpserver"
	"github.com/ad/go-daily-tasks-bot/internal/logger"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/ad/go-daily-tasks-bot/internal/services"
	"github.com/go-co-op/gocron/v2"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("bot stopped", zap.Error(err))
		return 1
	}
	log.Info("bot stopped")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	queue := db.NewDBQueue(conn)
	defer queue.Close()

	users := db.NewUserRepository(queue, cfg.DefaultTimezone)
	completions := db.NewCompletionRepository(queue)
	engine, err := loadEngine(ctx, db.NewCatalogRepository(queue), cfg, log)
	if err != nil {
		return err
	}

	// The update handler is built after the client it sends through.
	var handler *handlers.BotHandler
	botLog := logger.Bot(log)
	opts := []bot.Option{
		bot.WithHTTPClient(15*time.Second, &http.Client{Timeout: 30 * time.Second}),
		bot.WithMiddlewares(handlers.LogMiddleware(log)),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
			handler.HandleUpdate(ctx, b, update)
		}),
		bot.WithErrorsHandler(botLog.Error),
		bot.WithDebugHandler(botLog.Debug),
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	me, err := getMe(ctx, b, log)
	if err != nil {
		return err
	}

	limiter := services.NewRateLimiter(cfg.RateLimitCalls, cfg.RateLimitPeriod)
	errorManager := services.NewErrorManager(b, limiter, cfg.AdminID, log)
	gateway := services.NewDeliveryGateway(b, limiter, users, errorManager, services.DeliveryConfig{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		Timeout:   cfg.DeliveryTimeout,
		AdminID:   cfg.AdminID,
	}, log)
	menu := services.NewMenuManager(users, gateway, log)
	stats := services.NewStatisticsService(users, completions, engine)
	flows := services.NewProgressService(users, completions, engine, menu,
		services.NewAchievementNotifier(gateway, log), stats, log)

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logger.Gocron(log)),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	reminders := services.NewReminderScheduler(scheduler, users, menu, flows, services.ReminderConfig{
		Hour:             cfg.ReminderHour,
		Minute:           cfg.ReminderMinute,
		Concurrency:      cfg.ReminderConcurrency,
		RecipientTimeout: cfg.RecipientTimeout,
		RefreshInterval:  cfg.TimezoneRefreshInterval,
	}, log)
	flows.SetZoneRefresher(reminders)
	if err := reminders.Start(ctx); err != nil {
		return err
	}

	retention := services.NewRetentionService(users, cfg.RetentionInactivity, log)
	if err := retention.Schedule(ctx, scheduler, cfg.RetentionSchedule); err != nil {
		return err
	}

	admin := handlers.NewAdminHandler(stats, reminders, retention, gateway, log)
	handler = handlers.NewBotHandler(cfg.AdminID, flows, users, gateway, b, errorManager, admin, log)

	var webhook http.Handler
	if cfg.WebhookMode() {
		keeper := services.NewWebhookKeeper(b, cfg.WebhookURL, cfg.WebhookSecret, errorManager, log)
		if err := keeper.Install(ctx); err != nil {
			return err
		}
		if err := keeper.Schedule(ctx, scheduler, cfg.WebhookCheckEvery()); err != nil {
			return err
		}
		webhook = b.WebhookHandler()
	} else if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		log.Warn("delete webhook before polling", zap.Error(err))
	}

	log.Info("bot started",
		zap.String("username", me.Username),
		zap.Int64("admin_id", cfg.AdminID),
		zap.String("db", cfg.DBPath),
		zap.Int("tasks", engine.Len()),
		zap.Bool("webhook", cfg.WebhookMode()),
		zap.String("reminder_time", fmt.Sprintf("%02d:%02d", cfg.ReminderHour, cfg.ReminderMinute)))

	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	server := httpserver.New(cfg.HTTPAddr(), httpserver.NewRouter(webhook, queue, log), log)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		if webhook != nil {
			b.StartWebhook(gctx)
		} else {
			b.Start(gctx)
		}
		return nil
	})
	return g.Wait()
}

// loadEngine seeds the catalog table on first start and builds the engine
// from whatever the table holds afterwards.
func loadEngine(ctx context.Context, repo *db.CatalogRepository, cfg *config.Config, log *zap.Logger) (*services.ProgressEngine, error) {
	c := catalog.Default()
	if cfg.TasksFile != "" {
		var err error
		if c, err = catalog.Load(cfg.TasksFile); err != nil {
			return nil, err
		}
	}
	seeded, err := repo.SeedIfEmpty(ctx, c.Sequence(), c.Achievements)
	if err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	if seeded {
		log.Info("catalog seeded", zap.Int("tasks", len(c.Tasks)), zap.Int("achievements", len(c.Achievements)))
	}

	tasks, err := repo.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	rules, err := repo.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	if tasks.Len() == 0 {
		return nil, errors.New("task catalog is empty")
	}
	return services.NewProgressEngine(tasks, rules, models.EndPolicy(cfg.SequenceEndPolicy)), nil
}

func getMe(ctx context.Context, b *bot.Bot, log *zap.Logger) (*tgmodels.User, error) {
	const attempts = 3
	var lastErr error
	for i := 1; i <= attempts; i++ {
		log.Info("connecting to Telegram API", zap.Int("attempt", i))
		getMeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		me, err := b.GetMe(getMeCtx)
		cancel()
		if err == nil {
			return me, nil
		}
		lastErr = err
		log.Warn("getMe failed", zap.Int("attempt", i), zap.Error(err))
		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("get bot info after %d attempts: %w", attempts, lastErr)
}

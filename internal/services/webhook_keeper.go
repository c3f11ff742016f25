package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

type WebhookAPI interface {
	GetWebhookInfo(ctx context.Context) (*tgmodels.WebhookInfo, error)
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
}

type AdminTexter interface {
	NotifyText(ctx context.Context, text string)
}

var ErrWebhookNotInstalled = errors.New("webhook not installed")

// WebhookKeeper makes sure the provider keeps pushing updates to our URL.
type WebhookKeeper struct {
	api      WebhookAPI
	url      string
	secret   string
	notifier AdminTexter
	retries  int
	delay    time.Duration
	log      *zap.Logger
}

func NewWebhookKeeper(api WebhookAPI, url, secret string, notifier AdminTexter, log *zap.Logger) *WebhookKeeper {
	return &WebhookKeeper{
		api:      api,
		url:      url,
		secret:   secret,
		notifier: notifier,
		retries:  3,
		delay:    3 * time.Second,
		log:      log.Named("webhook"),
	}
}

// Install drops pending updates and registers the webhook from scratch.
func (k *WebhookKeeper) Install(ctx context.Context) error {
	if _, err := k.api.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
		k.log.Warn("delete webhook failed", zap.Error(err))
	}
	if err := k.set(ctx); err != nil {
		k.report(ctx, fmt.Sprintf("⚠ Ошибка webhook: %v", err))
		return err
	}
	return k.Ensure(ctx)
}

// Ensure checks the registered webhook and re-installs it when the provider
// reports a different or empty URL. It tries a few times before giving up.
func (k *WebhookKeeper) Ensure(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= k.retries; attempt++ {
		lastErr = k.check(ctx)
		if lastErr == nil {
			return nil
		}
		k.log.Warn("webhook check failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		k.report(ctx, fmt.Sprintf("⚠ ensure_webhook ошибка: %v", lastErr))
		if attempt < k.retries && !sleepCtx(ctx, k.delay) {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrWebhookNotInstalled, lastErr)
}

func (k *WebhookKeeper) check(ctx context.Context) error {
	info, err := k.api.GetWebhookInfo(ctx)
	if err != nil {
		return err
	}
	if info.URL == k.url {
		return nil
	}
	k.log.Info("webhook missing, reinstalling", zap.String("current", info.URL))
	return k.set(ctx)
}

func (k *WebhookKeeper) set(ctx context.Context) error {
	ok, err := k.api.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         k.url,
		SecretToken: k.secret,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrWebhookNotInstalled
	}
	return nil
}

func (k *WebhookKeeper) report(ctx context.Context, text string) {
	if k.notifier != nil {
		k.notifier.NotifyText(ctx, text)
	}
}

// Schedule runs Ensure every interval on s.
func (k *WebhookKeeper) Schedule(ctx context.Context, s gocron.Scheduler, interval time.Duration) error {
	_, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(
			func(ctx context.Context) {
				if err := k.Ensure(ctx); err != nil {
					k.log.Error("webhook keeper gave up", zap.Error(err))
				}
			},
			ctx,
		),
		gocron.WithName("webhook-keeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule webhook keeper: %w", err)
	}
	return nil
}

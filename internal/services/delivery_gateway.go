package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/db"
	"github.com/ad/go-daily-tasks-bot/internal/metrics"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// MessageAPI is the part of the Telegram client used for outbound messages.
type MessageAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error)
}

type Unsubscriber interface {
	SetSubscribed(ctx context.Context, id int64, subscribed bool) error
}

type FailureNotifier interface {
	NotifyDeliveryFailure(ctx context.Context, chatID int64, method string, request interface{}, err error)
}

type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
	FailureRejected
)

func (k FailureKind) String() string {
	switch k {
	case FailurePermanent:
		return "permanent"
	case FailureRejected:
		return "rejected"
	default:
		return "transient"
	}
}

var (
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	ErrDeliveryRejected     = errors.New("delivery rejected")
	ErrDeliveryExhausted    = errors.New("delivery retries exhausted")
)

type DeliveryError struct {
	Op       string
	ChatID   int64
	Attempts int
	Kind     FailureKind
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s to %d failed after %d attempt(s) (%s): %v", e.Op, e.ChatID, e.Attempts, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrRecipientUnreachable:
		return e.Kind == FailurePermanent
	case ErrDeliveryRejected:
		return e.Kind == FailureRejected
	case ErrDeliveryExhausted:
		return e.Kind == FailureTransient
	}
	return false
}

type DeliveryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration
	AdminID   int64
}

// DeliveryGateway is the rate-limited, retrying wrapper around outbound
// send and edit calls.
type DeliveryGateway struct {
	api      MessageAPI
	limiter  *RateLimiter
	users    Unsubscriber
	notifier FailureNotifier
	cfg      DeliveryConfig
	log      *zap.Logger
}

func NewDeliveryGateway(api MessageAPI, limiter *RateLimiter, users Unsubscriber, notifier FailureNotifier, cfg DeliveryConfig, log *zap.Logger) *DeliveryGateway {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &DeliveryGateway{
		api:      api,
		limiter:  limiter,
		users:    users,
		notifier: notifier,
		cfg:      cfg,
		log:      log.Named("delivery"),
	}
}

// Send delivers a new message and returns its id.
func (g *DeliveryGateway) Send(ctx context.Context, chatID int64, view models.View) (int, error) {
	params := &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        view.Text,
		ParseMode:   tgmodels.ParseModeHTML,
		ReplyMarkup: keyboard(view),
	}

	var messageID int
	err := g.do(ctx, "sendMessage", chatID, params, g.cfg.Attempts, true, func(ctx context.Context) error {
		msg, err := g.api.SendMessage(ctx, params)
		if err != nil {
			return err
		}
		messageID = msg.ID
		return nil
	})
	return messageID, err
}

// Edit replaces text and keyboard of an existing message. It makes a single
// attempt and never escalates: callers fall back to sending a new message.
func (g *DeliveryGateway) Edit(ctx context.Context, chatID int64, messageID int, view models.View) error {
	params := &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        view.Text,
		ParseMode:   tgmodels.ParseModeHTML,
		ReplyMarkup: keyboard(view),
	}

	return g.do(ctx, "editMessageText", chatID, params, 1, false, func(ctx context.Context) error {
		_, err := g.api.EditMessageText(ctx, params)
		return err
	})
}

func keyboard(view models.View) tgmodels.ReplyMarkup {
	if len(view.Buttons) == 0 {
		return nil
	}
	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(view.Buttons))
	for _, row := range view.Buttons {
		buttons := make([]tgmodels.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgmodels.InlineKeyboardButton{Text: b.Label, CallbackData: b.Action})
		}
		rows = append(rows, buttons)
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (g *DeliveryGateway) do(ctx context.Context, op string, chatID int64, request interface{}, maxAttempts int, escalate bool, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	delay := g.cfg.BaseDelay
	attempts := 0
	var lastErr error

	for attempts < maxAttempts {
		waitStart := time.Now()
		if err := g.limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		metrics.RateLimitWait.Observe(time.Since(waitStart).Seconds())

		attempts++
		err := call(ctx)
		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(op, "ok").Inc()
			return nil
		}
		lastErr = err

		kind, retryAfter := classify(err)
		metrics.DeliveryAttempts.WithLabelValues(op, kind.String()).Inc()

		switch kind {
		case FailurePermanent:
			g.unsubscribe(ctx, chatID, err)
			return g.fail(op, chatID, attempts, kind, err)
		case FailureRejected:
			return g.fail(op, chatID, attempts, kind, err)
		}

		if attempts == maxAttempts {
			break
		}
		wait := delay
		if retryAfter > wait {
			wait = retryAfter
		}
		delay *= 2

		g.log.Debug("retrying delivery",
			zap.String("op", op),
			zap.Int64("chat_id", chatID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))

		if !sleepCtx(ctx, wait) {
			break
		}
	}

	derr := g.fail(op, chatID, attempts, FailureTransient, lastErr)
	if escalate {
		g.escalate(ctx, op, chatID, request, derr)
	}
	return derr
}

func (g *DeliveryGateway) fail(op string, chatID int64, attempts int, kind FailureKind, err error) *DeliveryError {
	metrics.DeliveryFailures.WithLabelValues(op, kind.String()).Inc()
	g.log.Warn("delivery failed",
		zap.String("op", op),
		zap.Int64("chat_id", chatID),
		zap.Int("attempts", attempts),
		zap.Stringer("kind", kind),
		zap.Error(err))
	return &DeliveryError{Op: op, ChatID: chatID, Attempts: attempts, Kind: kind, Err: err}
}

func (g *DeliveryGateway) unsubscribe(ctx context.Context, chatID int64, cause error) {
	if chatID == g.cfg.AdminID || g.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := g.users.SetSubscribed(ctx, chatID, false)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		g.log.Error("auto-unsubscribe failed", zap.Int64("chat_id", chatID), zap.Error(err))
	default:
		metrics.AutoUnsubscribes.Inc()
		g.log.Info("recipient unreachable, unsubscribed", zap.Int64("chat_id", chatID), zap.Error(cause))
	}
}

// escalate reports to the admin without blocking the caller. Failures of the
// admin chat itself are not escalated.
func (g *DeliveryGateway) escalate(ctx context.Context, op string, chatID int64, request interface{}, err error) {
	if g.notifier == nil || chatID == g.cfg.AdminID {
		return
	}
	go g.notifier.NotifyDeliveryFailure(context.WithoutCancel(ctx), chatID, op, request, err)
}

// classify maps a client error to a failure kind and the minimum delay the
// provider asked for.
func classify(err error) (FailureKind, time.Duration) {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return FailureTransient, time.Duration(tooMany.RetryAfter) * time.Second
	}
	if errors.Is(err, bot.ErrorForbidden) {
		return FailurePermanent, 0
	}
	if errors.Is(err, bot.ErrorBadRequest) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "chat not found") || strings.Contains(msg, "user not found") {
			return FailurePermanent, 0
		}
		return FailureRejected, 0
	}
	return FailureTransient, 0
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/ad/go-daily-tasks-bot/internal/db"
	"github.com/ad/go-daily-tasks-bot/internal/fsm"
	"github.com/ad/go-daily-tasks-bot/internal/metrics"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/ad/go-daily-tasks-bot/internal/services"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	msgStoreUnavailable = "⚠ Сервис временно недоступен, попробуй позже."
	msgInvalidTimezone  = "❌ Неизвестный часовой пояс. Пример: Europe/Moscow"
	msgUnknownCommand   = "🤔 Неизвестная команда. Список команд: /help"
	msgGeneralError     = "⚠ Что-то пошло не так."
	msgHelp             = "Я помогаю выполнять по одному заданию в день.\n\n" +
		"/today — задание на сегодня\n" +
		"/done — отметить задание выполненным\n" +
		"/stats — статистика\n" +
		"/subscribe — включить напоминания\n" +
		"/unsubscribe — выключить напоминания\n" +
		"/timezone Europe/Moscow — сменить часовой пояс\n" +
		"/cancel — отменить ввод"
)

type CallbackAnswerer interface {
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type PanicReporter interface {
	NotifyAdmin(ctx context.Context, panicValue interface{}, update *tgmodels.Update)
}

type StateReader interface {
	Get(ctx context.Context, id int64) (*models.UserProgress, error)
}

type BotHandler struct {
	adminID   int64
	flows     *services.ProgressService
	users     StateReader
	replies   services.Sender
	callbacks CallbackAnswerer
	reporter  PanicReporter
	admin     *AdminHandler
	log       *zap.Logger
}

func NewBotHandler(
	adminID int64,
	flows *services.ProgressService,
	users StateReader,
	replies services.Sender,
	callbacks CallbackAnswerer,
	reporter PanicReporter,
	admin *AdminHandler,
	log *zap.Logger,
) *BotHandler {
	return &BotHandler{
		adminID:   adminID,
		flows:     flows,
		users:     users,
		replies:   replies,
		callbacks: callbacks,
		reporter:  reporter,
		admin:     admin,
		log:       log.Named("handler"),
	}
}

func (h *BotHandler) HandleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	defer h.recoverPanic(ctx, update)

	if update.Message != nil {
		h.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *BotHandler) recoverPanic(ctx context.Context, update *tgmodels.Update) {
	if r := recover(); r != nil {
		h.log.Error("panic in handler", zap.Any("panic", r))
		if h.reporter != nil {
			h.reporter.NotifyAdmin(ctx, r, update)
		}
	}
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *tgmodels.Message) {
	if msg.From == nil || msg.Chat.Type != tgmodels.ChatTypePrivate {
		return
	}
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, msg, text)
		return
	}
	if text == "" {
		return
	}

	u, err := h.users.Get(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.fail(ctx, userID, err)
		return
	}
	if u != nil && u.State == fsm.StateAwaitingTimezone {
		h.fail(ctx, userID, h.flows.SetTimezone(ctx, userID, text))
		return
	}
	h.fail(ctx, userID, h.flows.ShowToday(ctx, userID))
}

func (h *BotHandler) handleCommand(ctx context.Context, msg *tgmodels.Message, text string) {
	userID := msg.From.ID
	cmd, arg, _ := strings.Cut(text, " ")
	// Commands addressed as /cmd@botname in clients that add the suffix.
	cmd, _, _ = strings.Cut(cmd, "@")
	arg = strings.TrimSpace(arg)

	if userID == h.adminID && h.admin != nil && h.admin.HandleCommand(ctx, msg.Chat.ID, cmd, arg) {
		return
	}

	var err error
	switch cmd {
	case "/start":
		err = h.flows.Register(ctx, userID, displayName(msg.From))
	case "/today":
		err = h.flows.ShowToday(ctx, userID)
	case "/done":
		_, err = h.flows.Complete(ctx, userID)
	case "/stats":
		err = h.flows.ShowStats(ctx, userID)
	case "/subscribe":
		err = h.flows.SetSubscribed(ctx, userID, true)
	case "/unsubscribe":
		err = h.flows.SetSubscribed(ctx, userID, false)
	case "/timezone":
		if arg == "" {
			err = h.flows.BeginTimezoneChange(ctx, userID)
		} else {
			err = h.flows.SetTimezone(ctx, userID, arg)
		}
	case "/cancel":
		err = h.flows.CancelDialog(ctx, userID)
	case "/help":
		h.reply(ctx, userID, services.EscapeHTML(msgHelp))
	default:
		h.reply(ctx, userID, msgUnknownCommand)
	}
	h.fail(ctx, userID, err)
}

func (h *BotHandler) handleCallback(ctx context.Context, callback *tgmodels.CallbackQuery) {
	userID := callback.From.ID
	if _, err := h.callbacks.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
	}); err != nil {
		h.log.Debug("answer callback failed", zap.Error(err))
	}

	if userID == h.adminID && h.admin != nil && h.admin.HandleCallback(ctx, userID, callback.Data) {
		return
	}

	var err error
	switch data := callback.Data; {
	case data == fsm.ActionToday:
		err = h.flows.ShowToday(ctx, userID)
	case data == fsm.ActionDone:
		_, err = h.flows.Complete(ctx, userID)
	case data == fsm.ActionSubscribe:
		_, err = h.flows.ToggleSubscription(ctx, userID)
	case data == fsm.ActionStats:
		err = h.flows.ShowStats(ctx, userID)
	case data == fsm.ActionSetTimezone:
		err = h.flows.BeginTimezoneChange(ctx, userID)
	case data == fsm.ActionCancel:
		err = h.flows.CancelDialog(ctx, userID)
	case strings.HasPrefix(data, fsm.TimezonePrefix):
		err = h.flows.SetTimezone(ctx, userID, strings.TrimPrefix(data, fsm.TimezonePrefix))
	default:
		h.log.Debug("unknown callback", zap.Int64("user_id", userID), zap.String("data", data))
		return
	}
	h.fail(ctx, userID, err)
}

// fail turns a flow error into a short user-visible message. Nothing is sent
// when the user cannot be reached anyway.
func (h *BotHandler) fail(ctx context.Context, userID int64, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRecipientUnreachable):
		h.log.Info("user unreachable", zap.Int64("user_id", userID))
	case errors.Is(err, services.ErrInvalidTimezone):
		h.reply(ctx, userID, msgInvalidTimezone)
	case errors.Is(err, db.ErrStoreUnavailable):
		h.log.Error("store unavailable", zap.Int64("user_id", userID), zap.Error(err))
		h.reply(ctx, userID, msgStoreUnavailable)
	default:
		h.log.Warn("request failed", zap.Int64("user_id", userID), zap.Error(err))
		h.reply(ctx, userID, msgGeneralError)
	}
}

func (h *BotHandler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.replies.Send(ctx, chatID, models.View{Text: text}); err != nil {
		h.log.Warn("reply not delivered", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func displayName(u *tgmodels.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LogMiddleware records every inbound update before it reaches the handler.
func LogMiddleware(log *zap.Logger) bot.Middleware {
	log = log.Named("updates")
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
			switch {
			case update.Message != nil && update.Message.From != nil:
				metrics.Updates.WithLabelValues("message").Inc()
				log.Debug("message",
					zap.Int64("user_id", update.Message.From.ID),
					zap.String("username", update.Message.From.Username),
					zap.String("text", update.Message.Text))
			case update.CallbackQuery != nil:
				metrics.Updates.WithLabelValues("callback").Inc()
				log.Debug("callback",
					zap.Int64("user_id", update.CallbackQuery.From.ID),
					zap.String("data", update.CallbackQuery.Data))
			default:
				metrics.Updates.WithLabelValues("other").Inc()
			}
			next(ctx, b, update)
		}
	}
}

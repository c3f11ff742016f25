package services

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const adminMessageLimit = 4000

// ErrorManager reports to the admin chat. Sends are single best-effort
// attempts through the shared limiter and never escalate further.
type ErrorManager struct {
	api     MessageAPI
	limiter *RateLimiter
	adminID int64
	timeout time.Duration
	log     *zap.Logger
}

func NewErrorManager(api MessageAPI, limiter *RateLimiter, adminID int64, log *zap.Logger) *ErrorManager {
	return &ErrorManager{
		api:     api,
		limiter: limiter,
		adminID: adminID,
		timeout: 15 * time.Second,
		log:     log.Named("admin"),
	}
}

func (e *ErrorManager) AdminID() int64 {
	return e.adminID
}

func (e *ErrorManager) NotifyAdmin(ctx context.Context, panicValue interface{}, update *models.Update) {
	userInfo := "unknown"

	if update != nil {
		if update.Message != nil && update.Message.From != nil {
			userInfo = describeUser(update.Message.From)
		} else if update.CallbackQuery != nil && update.CallbackQuery.From.ID != 0 {
			userInfo = describeUser(&update.CallbackQuery.From)
		}
	}

	msg := fmt.Sprintf("🚨 Panic in handler\nUser: %s\nError: %v\n\nStack trace:\n%s",
		userInfo, panicValue, string(debug.Stack()))

	e.send(ctx, msg)
}

func describeUser(u *models.User) string {
	info := fmt.Sprintf("[%d]", u.ID)
	if u.FirstName != "" {
		info = u.FirstName + " " + info
	}
	if u.Username != "" {
		info = info + " @" + u.Username
	}
	return info
}

// NotifyDeliveryFailure reports an exhausted delivery together with a curl
// command that replays the failed request.
func (e *ErrorManager) NotifyDeliveryFailure(ctx context.Context, chatID int64, method string, request interface{}, err error) {
	curl := e.buildCurlCommand(method, request)

	msg := fmt.Sprintf("❌ Failed to deliver message\nUser: [%d]\nError: %v\n\nCurl:\n%s",
		chatID, err, curl)

	e.send(ctx, msg)
}

func (e *ErrorManager) NotifyText(ctx context.Context, text string) {
	e.send(ctx, text)
}

func (e *ErrorManager) send(ctx context.Context, msg string) {
	if e.adminID == 0 {
		e.log.Warn("admin notification dropped, no admin configured", zap.String("text", truncate(msg, 200)))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		e.log.Warn("admin notification not sent", zap.Error(err))
		return
	}
	if _, err := e.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: e.adminID,
		Text:   truncate(msg, adminMessageLimit),
	}); err != nil {
		e.log.Warn("admin notification failed", zap.Error(err))
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}

func (e *ErrorManager) buildCurlCommand(method string, request interface{}) string {
	jsonData, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return fmt.Sprintf("# Failed to serialize request: %v", err)
	}

	return fmt.Sprintf("curl -X POST 'https://api.telegram.org/bot[BOT_TOKEN]/%s' \\\n  -H 'Content-Type: application/json' \\\n  -d '%s'",
		method, string(jsonData))
}

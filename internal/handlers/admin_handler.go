package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/ad/go-daily-tasks-bot/internal/services"
	"go.uber.org/zap"
)

const adminStatsAction = "admin:stats"

type ReminderRunner interface {
	Zones() []string
	FireZone(ctx context.Context, zone string) (services.ReminderReport, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AdminHandler serves the operator commands. Every method returns false for
// input it does not own so the regular user flow can handle it.
type AdminHandler struct {
	stats     *services.StatisticsService
	reminders ReminderRunner
	retention Sweeper
	replies   services.Sender
	log       *zap.Logger
}

func NewAdminHandler(stats *services.StatisticsService, reminders ReminderRunner, retention Sweeper, replies services.Sender, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		stats:     stats,
		reminders: reminders,
		retention: retention,
		replies:   replies,
		log:       log.Named("admin"),
	}
}

func (h *AdminHandler) HandleCommand(ctx context.Context, chatID int64, cmd, arg string) bool {
	switch cmd {
	case "/admin":
		h.showSummary(ctx, chatID)
	case "/remind_now":
		h.remindNow(ctx, chatID, arg)
	case "/sweep":
		h.sweep(ctx, chatID)
	default:
		return false
	}
	return true
}

func (h *AdminHandler) HandleCallback(ctx context.Context, chatID int64, data string) bool {
	if data != adminStatsAction {
		return false
	}
	h.showSummary(ctx, chatID)
	return true
}

func (h *AdminHandler) showSummary(ctx context.Context, chatID int64) {
	summary, err := h.stats.Summary(ctx)
	if err != nil {
		h.log.Error("summary failed", zap.Error(err))
		h.send(ctx, chatID, models.View{Text: services.EscapeHTML("⚠ Не удалось собрать статистику: " + err.Error())})
		return
	}
	h.send(ctx, chatID, models.View{
		Text:    services.FormatSummary(summary),
		Buttons: [][]models.Button{{{Label: "🔄 Обновить", Action: adminStatsAction}}},
	})
}

// remindNow fires reminders outside the schedule. Claims still apply, so
// users already reminded today are skipped.
func (h *AdminHandler) remindNow(ctx context.Context, chatID int64, zone string) {
	zones := h.reminders.Zones()
	if zone != "" {
		zones = []string{zone}
	}
	if len(zones) == 0 {
		h.send(ctx, chatID, models.View{Text: "Нет подписчиков."})
		return
	}

	var sb strings.Builder
	sb.WriteString(services.FormatBold("⏰ Напоминания"))
	for _, z := range zones {
		report, err := h.reminders.FireZone(ctx, z)
		if err != nil {
			fmt.Fprintf(&sb, "\n%s: %s", services.EscapeHTML(z), services.EscapeHTML(err.Error()))
			continue
		}
		fmt.Fprintf(&sb, "\n%s: отправлено %d, пропущено %d, ошибок %d",
			services.EscapeHTML(z), report.Sent, report.Skipped+report.Duplicates, report.Failed)
	}
	h.send(ctx, chatID, models.View{Text: sb.String()})
}

func (h *AdminHandler) sweep(ctx context.Context, chatID int64) {
	n, err := h.retention.Sweep(ctx)
	if err != nil {
		h.send(ctx, chatID, models.View{Text: services.EscapeHTML("⚠ Очистка не удалась: " + err.Error())})
		return
	}
	h.send(ctx, chatID, models.View{Text: fmt.Sprintf("🧹 Удалено неактивных пользователей: %d", n)})
}

func (h *AdminHandler) send(ctx context.Context, chatID int64, view models.View) {
	if _, err := h.replies.Send(ctx, chatID, view); err != nil {
		h.log.Warn("admin reply not delivered", zap.Error(err))
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/ad/go-daily-tasks-bot/internal/fsm"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"go.uber.org/zap"
)

type MenuStore interface {
	Get(ctx context.Context, id int64) (*models.UserProgress, error)
	SetLiveMenu(ctx context.Context, id int64, messageID int) error
	ClearLiveMenu(ctx context.Context, id int64, stale int) (bool, error)
}

type Deliverer interface {
	Send(ctx context.Context, chatID int64, view models.View) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, view models.View) error
}

var MotivationalQuotes = []string{
	"Каждый день — новый шанс стать лучше!",
	"Маленькие шаги приводят к большим целям!",
	"Ты сильнее, чем думаешь!",
}

// MenuManager keeps a single live interactive message per user.
type MenuManager struct {
	store    MenuStore
	delivery Deliverer
	quotes   []string
	pick     func(n int) int
	log      *zap.Logger
}

func NewMenuManager(store MenuStore, delivery Deliverer, log *zap.Logger) *MenuManager {
	return &MenuManager{
		store:    store,
		delivery: delivery,
		quotes:   MotivationalQuotes,
		pick:     rand.Intn,
		log:      log.Named("menu"),
	}
}

// Show renders body with a keyboard built from the stored user and puts it on
// screen: the live menu is edited in place when possible, otherwise a new
// message is sent and becomes the live menu.
func (m *MenuManager) Show(ctx context.Context, userID int64, body string) error {
	return m.show(ctx, userID, body, nil)
}

// ShowDialog is Show with a custom keyboard in place of the main menu.
func (m *MenuManager) ShowDialog(ctx context.Context, userID int64, body string, buttons [][]models.Button) error {
	return m.show(ctx, userID, body, buttons)
}

func (m *MenuManager) show(ctx context.Context, userID int64, body string, buttons [][]models.Button) error {
	u, err := m.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	view := m.Render(*u, body)
	if buttons != nil {
		view.Buttons = buttons
	}

	if ref := u.LiveMenuMessageID; ref != 0 {
		err := m.delivery.Edit(ctx, userID, ref, view)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRecipientUnreachable) {
			return err
		}
		// A rejected edit means the target is dead; forget it before replacing.
		if errors.Is(err, ErrDeliveryRejected) {
			if _, cerr := m.store.ClearLiveMenu(ctx, userID, ref); cerr != nil {
				m.log.Warn("clear stale menu", zap.Int64("user_id", userID), zap.Int("message_id", ref), zap.Error(cerr))
			}
		}
	}

	messageID, err := m.delivery.Send(ctx, userID, view)
	if err != nil {
		return err
	}
	if err := m.store.SetLiveMenu(ctx, userID, messageID); err != nil {
		return fmt.Errorf("store live menu %d for user %d: %w", messageID, userID, err)
	}
	return nil
}

func (m *MenuManager) Render(u models.UserProgress, body string) models.View {
	text := FormatBold(body)
	if len(m.quotes) > 0 {
		text += "\n\n" + FormatItalic(m.quotes[m.pick(len(m.quotes))])
	}
	return models.View{Text: text, Buttons: MenuButtons(u.Subscribed)}
}

// TimezoneButtons offers the common zones two per row plus a cancel button.
func TimezoneButtons() [][]models.Button {
	var rows [][]models.Button
	var row []models.Button
	for _, zone := range fsm.CommonZones() {
		row = append(row, models.Button{Label: zone, Action: fsm.TimezoneAction(zone)})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return append(rows, []models.Button{{Label: "❌ Отмена", Action: fsm.ActionCancel}})
}

func MenuButtons(subscribed bool) [][]models.Button {
	sub := models.Button{Label: "🔔 Подписаться", Action: fsm.ActionSubscribe}
	if subscribed {
		sub.Label = "🔕 Отписаться"
	}
	return [][]models.Button{
		{
			{Label: "✅ Сегодня", Action: fsm.ActionToday},
			{Label: "📅 Следующий день", Action: fsm.ActionDone},
		},
		{sub},
		{{Label: "📊 Статистика", Action: fsm.ActionStats}},
		{{Label: "🌍 Часовой пояс", Action: fsm.ActionSetTimezone}},
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/fsm"
	"github.com/ad/go-daily-tasks-bot/internal/metrics"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"go.uber.org/zap"
)

var ErrInvalidTimezone = errors.New("invalid timezone")

type ProgressStore interface {
	Get(ctx context.Context, id int64) (*models.UserProgress, error)
	Upsert(ctx context.Context, id int64, patch models.UserPatch) (*models.UserProgress, error)
	Update(ctx context.Context, id int64, fn func(*models.UserProgress) error) (*models.UserProgress, error)
}

type CompletionRecorder interface {
	Record(ctx context.Context, userID int64, date models.Date, taskDay int) error
}

type MenuShower interface {
	Show(ctx context.Context, userID int64, body string) error
}

type DialogShower interface {
	MenuShower
	ShowDialog(ctx context.Context, userID int64, body string, buttons [][]models.Button) error
}

type UnlockNotifier interface {
	NotifyAchievements(ctx context.Context, userID int64, unlocked []models.AchievementRule) error
}

// ZoneRefresher is told when the set of subscribed timezones may have changed.
type ZoneRefresher interface {
	Refresh(ctx context.Context) error
}

type CompletionResult struct {
	User     models.UserProgress
	Date     models.Date
	TaskDay  int
	Advanced bool
	Unlocked []models.AchievementRule
}

// ProgressService drives the user-facing flows: it applies engine transitions
// through the store and refreshes the live menu afterwards.
type ProgressService struct {
	users       ProgressStore
	completions CompletionRecorder
	engine      *ProgressEngine
	menu        DialogShower
	notifier    UnlockNotifier
	stats       *StatisticsService
	zones       ZoneRefresher
	now         func() time.Time
	log         *zap.Logger
}

func NewProgressService(
	users ProgressStore,
	completions CompletionRecorder,
	engine *ProgressEngine,
	menu DialogShower,
	notifier UnlockNotifier,
	stats *StatisticsService,
	log *zap.Logger,
) *ProgressService {
	return &ProgressService{
		users:       users,
		completions: completions,
		engine:      engine,
		menu:        menu,
		notifier:    notifier,
		stats:       stats,
		now:         time.Now,
		log:         log.Named("progress"),
	}
}

// SetZoneRefresher wires the reminder scheduler after construction; the
// scheduler itself depends on the menu built alongside this service.
func (s *ProgressService) SetZoneRefresher(z ZoneRefresher) {
	s.zones = z
}

func (s *ProgressService) Engine() *ProgressEngine {
	return s.engine
}

// TaskBody is the menu text that presents the user's current task.
func (s *ProgressService) TaskBody(u models.UserProgress) string {
	if s.engine.Len() == 0 || (u.Finished && s.engine.Policy() == models.EndSaturate) {
		return s.engine.CurrentTask(u)
	}
	day := u.Day
	if day < 1 {
		day = 1
	}
	if day > s.engine.Len() {
		day = s.engine.Len()
	}
	return fmt.Sprintf("📅 День %d из %d\n\n%s", day, s.engine.Len(), s.engine.CurrentTask(u))
}

// ReminderBody is the text of the daily nudge. It never marks anything done.
func (s *ProgressService) ReminderBody(u models.UserProgress) string {
	return "⏰ Напоминание!\n\n" + s.TaskBody(u)
}

// Register creates or refreshes the user and greets them with the menu.
func (s *ProgressService) Register(ctx context.Context, userID int64, displayName string) error {
	name := strings.TrimSpace(displayName)
	patch := models.UserPatch{}
	if name != "" {
		patch.DisplayName = &name
	} else {
		name = "друг"
	}
	u, err := s.users.Upsert(ctx, userID, patch)
	if err != nil {
		return err
	}
	greeting := fmt.Sprintf("Привет, %s! 👋 Я твой наставник по привычкам.\n\n%s", name, s.TaskBody(*u))
	return s.menu.Show(ctx, userID, greeting)
}

func (s *ProgressService) ShowToday(ctx context.Context, userID int64) error {
	u, err := s.users.Upsert(ctx, userID, models.UserPatch{})
	if err != nil {
		return err
	}
	return s.menu.Show(ctx, userID, s.TaskBody(*u))
}

// Complete advances the user for their local today, logs the completion,
// refreshes the menu and announces unlocked achievements.
func (s *ProgressService) Complete(ctx context.Context, userID int64) (*CompletionResult, error) {
	now := s.now()
	var res CompletionResult

	u, err := s.users.Update(ctx, userID, func(u *models.UserProgress) error {
		today := u.Today(now)
		next, unlocked := s.engine.Advance(*u, today)
		res = CompletionResult{
			Date:     today,
			TaskDay:  u.Day,
			Advanced: next.LastCompletedDate != u.LastCompletedDate,
			Unlocked: unlocked,
		}
		*u = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.User = *u

	if !res.Advanced {
		metrics.Completions.WithLabelValues("repeat").Inc()
		body := "✅ Сегодняшнее задание уже выполнено. Возвращайся завтра!\n\n" + s.TaskBody(*u)
		return &res, s.menu.Show(ctx, userID, body)
	}

	metrics.Completions.WithLabelValues("advanced").Inc()
	metrics.AchievementsUnlocked.Add(float64(len(res.Unlocked)))
	if err := s.completions.Record(ctx, userID, res.Date, res.TaskDay); err != nil {
		s.log.Warn("completion log not written", zap.Int64("user_id", userID), zap.Error(err))
	}
	s.log.Info("task completed",
		zap.Int64("user_id", userID),
		zap.Int("day", res.TaskDay),
		zap.Int("streak", u.Streak),
		zap.Int("unlocked", len(res.Unlocked)))

	body := fmt.Sprintf("🔥 Отлично! День %d выполнен. Серия: %d\n\n%s", res.TaskDay, u.Streak, s.TaskBody(*u))
	menuErr := s.menu.Show(ctx, userID, body)
	// Unlocks are already stored and never granted again, so a failed menu
	// refresh must not swallow them.
	if len(res.Unlocked) > 0 && s.notifier != nil && !errors.Is(menuErr, ErrRecipientUnreachable) {
		if err := s.notifier.NotifyAchievements(ctx, userID, res.Unlocked); err != nil {
			s.log.Warn("achievement notification incomplete", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return &res, menuErr
}

// ToggleSubscription flips reminders on or off and returns the new value.
func (s *ProgressService) ToggleSubscription(ctx context.Context, userID int64) (bool, error) {
	u, err := s.users.Update(ctx, userID, func(u *models.UserProgress) error {
		u.Subscribed = !u.Subscribed
		return nil
	})
	if err != nil {
		return false, err
	}
	s.refreshZones(ctx)
	return u.Subscribed, s.menu.Show(ctx, userID, subscriptionBody(u.Subscribed))
}

func (s *ProgressService) SetSubscribed(ctx context.Context, userID int64, subscribed bool) error {
	if _, err := s.users.Upsert(ctx, userID, models.UserPatch{Subscribed: &subscribed}); err != nil {
		return err
	}
	s.refreshZones(ctx)
	return s.menu.Show(ctx, userID, subscriptionBody(subscribed))
}

func subscriptionBody(subscribed bool) string {
	if subscribed {
		return "🔔 Ты подписан на ежедневные напоминания."
	}
	return "🔕 Напоминания отключены."
}

// BeginTimezoneChange puts the user into the timezone dialog.
func (s *ProgressService) BeginTimezoneChange(ctx context.Context, userID int64) error {
	state := fsm.StateAwaitingTimezone
	u, err := s.users.Upsert(ctx, userID, models.UserPatch{State: &state})
	if err != nil {
		return err
	}
	body := fmt.Sprintf("🌍 Текущий часовой пояс: %s\n\nВыбери пояс кнопкой или отправь название, например Europe/Moscow.", u.Timezone)
	return s.menu.ShowDialog(ctx, userID, body, TimezoneButtons())
}

// CancelDialog leaves any pending dialog and shows the current task.
func (s *ProgressService) CancelDialog(ctx context.Context, userID int64) error {
	idle := fsm.StateIdle
	u, err := s.users.Upsert(ctx, userID, models.UserPatch{State: &idle})
	if err != nil {
		return err
	}
	return s.menu.Show(ctx, userID, s.TaskBody(*u))
}

// SetTimezone validates zone against the tz database, stores it and ends the
// timezone dialog.
func (s *ProgressService) SetTimezone(ctx context.Context, userID int64, zone string) error {
	zone = strings.TrimSpace(zone)
	if err := ValidateTimezone(zone); err != nil {
		return err
	}
	idle := fsm.StateIdle
	if _, err := s.users.Upsert(ctx, userID, models.UserPatch{Timezone: &zone, State: &idle}); err != nil {
		return err
	}
	s.refreshZones(ctx)
	return s.menu.Show(ctx, userID, "🌍 Часовой пояс изменён на "+zone)
}

func ValidateTimezone(zone string) error {
	// LoadLocation accepts "" and "Local", neither of which is a real user zone.
	if zone == "" || zone == "Local" {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, zone)
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, zone)
	}
	return nil
}

func (s *ProgressService) ShowStats(ctx context.Context, userID int64) error {
	if _, err := s.users.Upsert(ctx, userID, models.UserPatch{}); err != nil {
		return err
	}
	st, err := s.stats.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.menu.Show(ctx, userID, FormatUserStatistics(st))
}

func (s *ProgressService) refreshZones(ctx context.Context) {
	if s.zones == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.zones.Refresh(ctx); err != nil {
			s.log.Warn("reminder zones not refreshed", zap.Error(err))
		}
	}()
}

// WantsReminder reports whether u still has a task to be nudged about.
func (s *ProgressService) WantsReminder(u models.UserProgress) bool {
	return s.engine.Len() > 0 && !(u.Finished && s.engine.Policy() == models.EndSaturate)
}

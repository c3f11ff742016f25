package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ad/go-daily-tasks-bot/internal/models"
)

type StatsStore interface {
	Get(ctx context.Context, id int64) (*models.UserProgress, error)
	Count(ctx context.Context, f models.UserFilter) (int, error)
	Leaders(ctx context.Context, limit int) ([]models.UserProgress, error)
}

type CompletionCounter interface {
	CountByUser(ctx context.Context, userID int64) (int, error)
	Totals(ctx context.Context) (users int, completions int, err error)
}

type UserStatistics struct {
	Day           int
	Total         int
	Finished      bool
	Streak        int
	CompletedDays int
	LastCompleted models.Date
	Achievements  []models.AchievementRule
	Timezone      string
	Subscribed    bool
}

type Summary struct {
	Users            int
	Subscribed       int
	ActiveUsers      int
	TotalCompletions int
	Leaders          []models.UserProgress
}

type StatisticsService struct {
	users       StatsStore
	completions CompletionCounter
	engine      *ProgressEngine
	leaderLimit int
}

func NewStatisticsService(users StatsStore, completions CompletionCounter, engine *ProgressEngine) *StatisticsService {
	return &StatisticsService{
		users:       users,
		completions: completions,
		engine:      engine,
		leaderLimit: 10,
	}
}

func (s *StatisticsService) ForUser(ctx context.Context, userID int64) (*UserStatistics, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed, err := s.completions.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &UserStatistics{
		Day:           u.Day,
		Total:         s.engine.Len(),
		Finished:      u.Finished,
		Streak:        u.Streak,
		CompletedDays: completed,
		LastCompleted: u.LastCompletedDate,
		Timezone:      u.Timezone,
		Subscribed:    u.Subscribed,
	}
	for _, rule := range s.engine.Rules() {
		if u.Achievements.Has(rule.Key()) {
			stats.Achievements = append(stats.Achievements, rule)
		}
	}
	return stats, nil
}

func (s *StatisticsService) Summary(ctx context.Context) (*Summary, error) {
	users, err := s.users.Count(ctx, models.UserFilter{})
	if err != nil {
		return nil, err
	}
	subscribed := true
	subs, err := s.users.Count(ctx, models.UserFilter{Subscribed: &subscribed})
	if err != nil {
		return nil, err
	}
	active, completions, err := s.completions.Totals(ctx)
	if err != nil {
		return nil, err
	}
	leaders, err := s.users.Leaders(ctx, s.leaderLimit)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Users:            users,
		Subscribed:       subs,
		ActiveUsers:      active,
		TotalCompletions: completions,
		Leaders:          leaders,
	}, nil
}

// FormatUserStatistics renders plain text; the menu escapes it.
func FormatUserStatistics(st *UserStatistics) string {
	var sb strings.Builder
	sb.WriteString("📊 Твоя статистика\n\n")
	if st.Finished {
		fmt.Fprintf(&sb, "📅 Программа пройдена: %d из %d\n", st.Total, st.Total)
	} else {
		fmt.Fprintf(&sb, "📅 День: %d из %d\n", st.Day, st.Total)
	}
	fmt.Fprintf(&sb, "🔥 Серия: %d\n", st.Streak)
	fmt.Fprintf(&sb, "✅ Выполнено дней: %d\n", st.CompletedDays)
	if !st.LastCompleted.IsZero() {
		fmt.Fprintf(&sb, "🗓 Последнее выполнение: %s\n", st.LastCompleted)
	}
	fmt.Fprintf(&sb, "🌍 Часовой пояс: %s\n", st.Timezone)
	if st.Subscribed {
		sb.WriteString("🔔 Напоминания включены\n")
	} else {
		sb.WriteString("🔕 Напоминания выключены\n")
	}

	if len(st.Achievements) == 0 {
		sb.WriteString("\n🏅 Достижений пока нет")
		return sb.String()
	}
	sb.WriteString("\n🏅 Достижения:")
	for _, rule := range st.Achievements {
		fmt.Fprintf(&sb, "\n%s %s", AchievementEmoji(rule), rule.Reward)
	}
	return sb.String()
}

// FormatSummary renders the admin report as HTML.
func FormatSummary(s *Summary) string {
	var sb strings.Builder
	sb.WriteString(FormatBold("📊 Статистика бота"))
	fmt.Fprintf(&sb, "\n\n👥 Пользователей: %d\n", s.Users)
	fmt.Fprintf(&sb, "🔔 Подписаны: %d\n", s.Subscribed)
	fmt.Fprintf(&sb, "✅ Выполняли задания: %d\n", s.ActiveUsers)
	fmt.Fprintf(&sb, "📈 Всего выполнений: %d\n", s.TotalCompletions)

	if len(s.Leaders) == 0 {
		return sb.String()
	}
	sb.WriteString("\n" + FormatBold("🏆 Лидеры по серии"))
	for i, u := range s.Leaders {
		name := u.DisplayName
		if name == "" {
			name = fmt.Sprintf("[%d]", u.ID)
		}
		fmt.Fprintf(&sb, "\n%d. %s: %d (день %d)", i+1, EscapeHTML(name), u.Streak, u.Day)
	}
	return sb.String()
}

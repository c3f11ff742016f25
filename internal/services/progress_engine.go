package services

import (
	"sort"

	"github.com/ad/go-daily-tasks-bot/internal/models"
)

const DefaultFinishedText = "🎉 Все задания пройдены! Поздравляем с завершением программы."

// ProgressEngine holds the pure state transitions over UserProgress.
type ProgressEngine struct {
	tasks        models.TaskSequence
	rules        []models.AchievementRule
	policy       models.EndPolicy
	finishedText string
}

func NewProgressEngine(tasks models.TaskSequence, rules []models.AchievementRule, policy models.EndPolicy) *ProgressEngine {
	sorted := make([]models.AchievementRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	if policy != models.EndWrap {
		policy = models.EndSaturate
	}
	return &ProgressEngine{
		tasks:        tasks,
		rules:        sorted,
		policy:       policy,
		finishedText: DefaultFinishedText,
	}
}

func (e *ProgressEngine) Len() int {
	return e.tasks.Len()
}

func (e *ProgressEngine) Rules() []models.AchievementRule {
	return e.rules
}

func (e *ProgressEngine) Policy() models.EndPolicy {
	return e.policy
}

// CurrentTask returns the task for the user's day, or the terminal text once
// the sequence has been completed under the saturating policy.
func (e *ProgressEngine) CurrentTask(u models.UserProgress) string {
	if e.tasks.Len() == 0 || (u.Finished && e.policy == models.EndSaturate) {
		return e.finishedText
	}
	return e.tasks.Task(u.Day)
}

// Advance marks today's task done. Repeating it for the same (or an earlier)
// date returns u unchanged and no unlocks.
func (e *ProgressEngine) Advance(u models.UserProgress, today models.Date) (models.UserProgress, []models.AchievementRule) {
	if !u.LastCompletedDate.IsZero() && today <= u.LastCompletedDate {
		return u, nil
	}

	next := u.Clone()
	if !u.LastCompletedDate.IsZero() && u.LastCompletedDate.AddDays(1) == today {
		next.Streak++
	} else {
		next.Streak = 1
	}

	n := e.tasks.Len()
	if next.Day < 1 {
		next.Day = 1
	}
	switch {
	case n == 0:
	case next.Day < n:
		next.Day++
	case e.policy == models.EndWrap:
		next.Day = 1
		next.Finished = false
	default:
		next.Day = n
		next.Finished = true
	}
	next.LastCompletedDate = today

	var unlocked []models.AchievementRule
	for _, rule := range e.rules {
		if next.Streak < rule.Threshold {
			break
		}
		if next.Achievements.Has(rule.Key()) {
			continue
		}
		next.Achievements = next.Achievements.With(rule.Key())
		unlocked = append(unlocked, rule)
	}
	return next, unlocked
}

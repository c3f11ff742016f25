package services

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"pgregory.net/rapid"
)

func testSequence(n int) models.TaskSequence {
	seq := make(models.TaskSequence, n)
	for i := range seq {
		seq[i] = fmt.Sprintf("task %d", i+1)
	}
	return seq
}

var testRules = []models.AchievementRule{
	{Threshold: 7, Reward: "seven"},
	{Threshold: 3, Reward: "three"},
	{Threshold: 5, Reward: "five"},
}

func drawUser(rt *rapid.T, n int) models.UserProgress {
	u := models.NewUserProgress(1, "UTC")
	u.Day = rapid.IntRange(1, n).Draw(rt, "day")
	u.Streak = rapid.IntRange(0, 40).Draw(rt, "streak")
	if rapid.Bool().Draw(rt, "hasLast") {
		u.LastCompletedDate = models.Date("2024-01-01").AddDays(rapid.IntRange(0, 60).Draw(rt, "lastOffset"))
	}
	return u
}

func TestProperty1_AdvanceIdempotence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		engine := NewProgressEngine(testSequence(n), testRules, models.EndSaturate)
		u := drawUser(rt, n)
		today := models.Date("2024-01-01").AddDays(rapid.IntRange(0, 90).Draw(rt, "today"))

		first, _ := engine.Advance(u, today)
		second, unlocked := engine.Advance(first, today)

		if !reflect.DeepEqual(first, second) {
			rt.Fatalf("second advance changed the record:\n%+v\n%+v", first, second)
		}
		if len(unlocked) != 0 {
			rt.Fatalf("second advance unlocked %v", unlocked)
		}
	})
}

func TestProperty2_StreakCorrectness(t *testing.T) {
	engine := NewProgressEngine(testSequence(30), nil, models.EndSaturate)
	d := models.Date("2024-03-30")

	u := models.NewUserProgress(1, "UTC")
	for _, day := range []models.Date{d, d.AddDays(1), d.AddDays(2)} {
		u, _ = engine.Advance(u, day)
	}
	if u.Streak != 3 {
		t.Fatalf("consecutive days: expected streak 3, got %d", u.Streak)
	}

	u = models.NewUserProgress(1, "UTC")
	for _, day := range []models.Date{d, d.AddDays(1), d.AddDays(5)} {
		u, _ = engine.Advance(u, day)
	}
	if u.Streak != 1 {
		t.Fatalf("after a gap: expected streak 1, got %d", u.Streak)
	}

	rapid.Check(t, func(rt *rapid.T) {
		gaps := rapid.SliceOfN(rapid.IntRange(1, 4), 1, 30).Draw(rt, "gaps")
		u := models.NewUserProgress(1, "UTC")
		day := models.Date("2024-01-01")
		want := 0
		for i, gap := range gaps {
			if i > 0 {
				day = day.AddDays(gap)
			}
			if i == 0 || gap > 1 {
				want = 1
			} else {
				want++
			}
			u, _ = engine.Advance(u, day)
			if u.Streak != want {
				rt.Fatalf("step %d: expected streak %d, got %d", i, want, u.Streak)
			}
		}
	})
}

func TestProperty3_AchievementMonotonicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		engine := NewProgressEngine(testSequence(30), testRules, models.EndSaturate)
		u := models.NewUserProgress(1, "UTC")
		day := models.Date("2024-01-01")
		emitted := map[string]bool{}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			day = day.AddDays(rapid.IntRange(0, 3).Draw(rt, "gap"))
			before := u.Achievements
			var unlocked []models.AchievementRule
			u, unlocked = engine.Advance(u, day)

			for _, k := range before {
				if !u.Achievements.Has(k) {
					rt.Fatalf("achievement %s was removed", k)
				}
			}
			for i, r := range unlocked {
				if emitted[r.Key()] {
					rt.Fatalf("achievement %s emitted twice", r.Key())
				}
				if i > 0 && unlocked[i-1].Threshold >= r.Threshold {
					rt.Fatalf("unlocks not in ascending order: %v", unlocked)
				}
				emitted[r.Key()] = true
			}
		}
	})
}

func TestProperty4_DayBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		engine := NewProgressEngine(testSequence(n), nil, models.EndSaturate)
		u := models.NewUserProgress(1, "UTC")
		day := models.Date("2024-01-01")

		advances := rapid.IntRange(n, 3*n).Draw(rt, "advances")
		for i := 0; i < advances; i++ {
			u, _ = engine.Advance(u, day.AddDays(i))
			if u.Day < 1 || u.Day > n {
				rt.Fatalf("day %d out of [1,%d]", u.Day, n)
			}
		}
		if !u.Finished {
			rt.Fatalf("expected finished after %d advances over %d tasks", advances, n)
		}
		if got := engine.CurrentTask(u); got != DefaultFinishedText {
			rt.Fatalf("expected terminal text, got %q", got)
		}
	})
}

func TestAdvanceWrapPolicy(t *testing.T) {
	engine := NewProgressEngine(testSequence(3), nil, models.EndWrap)
	u := models.NewUserProgress(1, "UTC")
	day := models.Date("2024-01-01")
	var days []int
	for i := 0; i < 4; i++ {
		u, _ = engine.Advance(u, day.AddDays(i))
		days = append(days, u.Day)
	}
	if !reflect.DeepEqual(days, []int{2, 3, 1, 2}) {
		t.Fatalf("unexpected wrap sequence %v", days)
	}
	if u.Finished {
		t.Fatal("wrap policy must never finish")
	}
	if got := engine.CurrentTask(u); got != "task 2" {
		t.Fatalf("unexpected task %q", got)
	}
}

func TestAdvanceFirstCompletionScenario(t *testing.T) {
	engine := NewProgressEngine(testSequence(30), testRules, models.EndSaturate)
	u := models.NewUserProgress(1, "UTC")

	first, unlocked := engine.Advance(u, "2024-01-10")
	if first.Day != 2 || first.Streak != 1 || first.LastCompletedDate != "2024-01-10" {
		t.Fatalf("unexpected result %+v", first)
	}
	if len(unlocked) != 0 {
		t.Fatalf("unexpected unlocks %v", unlocked)
	}

	second, unlocked := engine.Advance(first, "2024-01-10")
	if !reflect.DeepEqual(first, second) || len(unlocked) != 0 {
		t.Fatalf("repeat advance was not a no-op: %+v %v", second, unlocked)
	}
}

func TestAdvanceUnlocksThresholdFive(t *testing.T) {
	engine := NewProgressEngine(testSequence(30), testRules, models.EndSaturate)
	u := models.NewUserProgress(1, "UTC")
	u.Day = 5
	u.Streak = 4
	u.LastCompletedDate = "2024-01-09"
	u.Achievements = models.AchievementKeys{"3"}

	next, unlocked := engine.Advance(u, "2024-01-10")
	if next.Streak != 5 {
		t.Fatalf("expected streak 5, got %d", next.Streak)
	}
	if len(unlocked) != 1 || unlocked[0].Reward != "five" {
		t.Fatalf("expected exactly the threshold 5 reward, got %v", unlocked)
	}
	if !next.Achievements.Has("5") || next.Achievements.Has("7") {
		t.Fatalf("unexpected achievements %v", next.Achievements)
	}
	if len(u.Achievements) != 1 {
		t.Fatal("advance mutated its input")
	}
}

package db

import (
	"context"
	"testing"

	"github.com/ad/go-daily-tasks-bot/internal/models"
)

func TestCatalogSeedAndReplace(t *testing.T) {
	queue, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCatalogRepository(queue)
	ctx := context.Background()

	seeded, err := repo.SeedIfEmpty(ctx, models.TaskSequence{"a", "b"}, []models.AchievementRule{{Threshold: 2, Reward: "two"}})
	if err != nil {
		t.Fatal(err)
	}
	if !seeded {
		t.Fatal("expected empty catalog to be seeded")
	}

	seeded, err = repo.SeedIfEmpty(ctx, models.TaskSequence{"x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seeded {
		t.Fatal("existing catalog must not be reseeded")
	}

	tasks, err := repo.Tasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tasks.Len() != 2 || tasks.Task(1) != "a" || tasks.Task(2) != "b" {
		t.Fatalf("unexpected tasks %v", tasks)
	}

	if err := repo.Replace(ctx, models.TaskSequence{"c", "d", "e"}, []models.AchievementRule{
		{Threshold: 5, Reward: "five"},
		{Threshold: 3, Reward: "three"},
	}); err != nil {
		t.Fatal(err)
	}

	tasks, _ = repo.Tasks(ctx)
	if tasks.Len() != 3 || tasks.Task(3) != "e" {
		t.Fatalf("unexpected tasks after replace %v", tasks)
	}
	rules, err := repo.Rules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0].Threshold != 3 || rules[1].Reward != "five" {
		t.Fatalf("unexpected rules %v", rules)
	}

	if err := repo.Replace(ctx, nil, nil); err == nil {
		t.Fatal("expected error for empty sequence")
	}
}

func TestCompletionRecordIsIdempotentPerDay(t *testing.T) {
	queue, cleanup := setupTestDB(t)
	defer cleanup()
	users := NewUserRepository(queue, "UTC")
	repo := NewCompletionRepository(queue)
	ctx := context.Background()

	if _, err := users.Upsert(ctx, 1, models.UserPatch{}); err != nil {
		t.Fatal(err)
	}
	for _, d := range []models.Date{"2024-01-10", "2024-01-10", "2024-01-11"} {
		if err := repo.Record(ctx, 1, d, 1); err != nil {
			t.Fatal(err)
		}
	}
	n, err := repo.CountByUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 completions, got %d", n)
	}
	u, c, err := repo.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u != 1 || c != 2 {
		t.Fatalf("unexpected totals users=%d completions=%d", u, c)
	}
}

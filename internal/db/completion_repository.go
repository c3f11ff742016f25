package db

import (
	"context"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/jmoiron/sqlx"
)

// CompletionRepository keeps the per-day completion log used for statistics.
type CompletionRepository struct {
	queue *DBQueue
}

func NewCompletionRepository(queue *DBQueue) *CompletionRepository {
	return &CompletionRepository{queue: queue}
}

// Record stores one completion per user and local date; repeats are ignored.
func (r *CompletionRepository) Record(ctx context.Context, userID int64, date models.Date, taskDay int) error {
	_, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO completions (user_id, day_date, task_day, completed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, day_date) DO NOTHING
		`, userID, date, taskDay, time.Now().UTC().Truncate(time.Second))
		return nil, err
	})
	return err
}

func (r *CompletionRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var n int
		err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM completions WHERE user_id = ?`, userID)
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Totals reports how many distinct users completed at least one day and the
// overall number of completions.
func (r *CompletionRepository) Totals(ctx context.Context) (users int, completions int, err error) {
	type totals struct {
		Users       int `db:"users"`
		Completions int `db:"completions"`
	}
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var t totals
		err := db.GetContext(ctx, &t, `SELECT COUNT(DISTINCT user_id) AS users, COUNT(*) AS completions FROM completions`)
		return t, err
	})
	if err != nil {
		return 0, 0, err
	}
	t := result.(totals)
	return t.Users, t.Completions, nil
}

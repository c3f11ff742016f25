package db

import (
	"context"
	"errors"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/jmoiron/sqlx"
)

// CatalogRepository stores the static task sequence and achievement rules.
type CatalogRepository struct {
	queue *DBQueue
}

func NewCatalogRepository(queue *DBQueue) *CatalogRepository {
	return &CatalogRepository{queue: queue}
}

func (r *CatalogRepository) Tasks(ctx context.Context) (models.TaskSequence, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var texts []string
		err := db.SelectContext(ctx, &texts, `SELECT text FROM tasks ORDER BY day`)
		return models.TaskSequence(texts), err
	})
	if err != nil {
		return nil, err
	}
	return result.(models.TaskSequence), nil
}

func (r *CatalogRepository) Rules(ctx context.Context) ([]models.AchievementRule, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var rules []models.AchievementRule
		err := db.SelectContext(ctx, &rules, `SELECT threshold, reward FROM achievements ORDER BY threshold`)
		return rules, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.AchievementRule), nil
}

// Replace swaps the whole catalog in one transaction. Days are renumbered 1..N
// in the order given.
func (r *CatalogRepository) Replace(ctx context.Context, tasks models.TaskSequence, rules []models.AchievementRule) error {
	if len(tasks) == 0 {
		return errors.New("catalog: empty task sequence")
	}
	_, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
			return nil, err
		}
		for i, text := range tasks {
			if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (day, text) VALUES (?, ?)`, i+1, text); err != nil {
				return nil, err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM achievements`); err != nil {
			return nil, err
		}
		for _, rule := range rules {
			if _, err := tx.NamedExecContext(ctx,
				`INSERT INTO achievements (threshold, reward) VALUES (:threshold, :reward)`, rule); err != nil {
				return nil, err
			}
		}
		return nil, tx.Commit()
	})
	return err
}

// SeedIfEmpty installs the given catalog when no tasks are stored yet.
func (r *CatalogRepository) SeedIfEmpty(ctx context.Context, tasks models.TaskSequence, rules []models.AchievementRule) (bool, error) {
	current, err := r.Tasks(ctx)
	if err != nil {
		return false, err
	}
	if len(current) > 0 {
		return false, nil
	}
	if err := r.Replace(ctx, tasks, rules); err != nil {
		return false, err
	}
	return true, nil
}

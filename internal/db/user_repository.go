package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, display_name, day, streak, last_completed_date, achievements,
	subscribed, timezone, live_menu_message_id, last_reminder_date, state, finished,
	last_active_at, created_at, updated_at, version`

const (
	defaultPageSize     = 200
	defaultMaxConflicts = 5
)

type UserRepository struct {
	queue           *DBQueue
	defaultTimezone string
	pageSize        int
	maxConflicts    int
	now             func() time.Time
}

func NewUserRepository(queue *DBQueue, defaultTimezone string) *UserRepository {
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &UserRepository{
		queue:           queue,
		defaultTimezone: defaultTimezone,
		pageSize:        defaultPageSize,
		maxConflicts:    defaultMaxConflicts,
		now:             time.Now,
	}
}

func (r *UserRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*models.UserProgress, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var u models.UserProgress
		if err := db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
			return nil, err
		}
		return &u, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.UserProgress), nil
}

// Upsert creates the record with defaults if it is missing and applies the
// non-nil fields of patch.
func (r *UserRepository) Upsert(ctx context.Context, id int64, patch models.UserPatch) (*models.UserProgress, error) {
	return r.Update(ctx, id, func(u *models.UserProgress) error {
		patch.Apply(u)
		return nil
	})
}

// Update is an atomic read-modify-write of one record. The write is
// conditional on the version read in the same transaction; on a version
// mismatch the whole cycle is repeated with a fresh read. fn must not do I/O
// because it may run more than once. An error from fn aborts the update.
func (r *UserRepository) Update(ctx context.Context, id int64, fn func(*models.UserProgress) error) (*models.UserProgress, error) {
	for attempt := 0; attempt < r.maxConflicts; attempt++ {
		result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
			return r.updateTx(ctx, db, id, fn)
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result.(*models.UserProgress), nil
	}
	return nil, fmt.Errorf("update user %d: %w", id, ErrConflict)
}

func (r *UserRepository) updateTx(ctx context.Context, db *sqlx.DB, id int64, fn func(*models.UserProgress) error) (*models.UserProgress, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := r.timestamp()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, timezone, last_active_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, r.defaultTimezone, now, now, now); err != nil {
		return nil, err
	}

	var current models.UserProgress
	if err := tx.GetContext(ctx, &current, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return nil, final(err)
	}
	next.ID = current.ID
	next.Version = current.Version
	next.LastActiveAt = now
	next.UpdatedAt = now

	res, err := tx.NamedExecContext(ctx, `
		UPDATE users SET
			display_name = :display_name,
			day = :day,
			streak = :streak,
			last_completed_date = :last_completed_date,
			achievements = :achievements,
			subscribed = :subscribed,
			timezone = :timezone,
			state = :state,
			finished = :finished,
			last_active_at = :last_active_at,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`, &next)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	next.Version++
	next.LiveMenuMessageID = current.LiveMenuMessageID
	next.LastReminderDate = current.LastReminderDate
	return &next, nil
}

// SetSubscribed changes the flag of an existing record only.
func (r *UserRepository) SetSubscribed(ctx context.Context, id int64, subscribed bool) error {
	return r.execOne(ctx, `
		UPDATE users SET subscribed = ?, updated_at = ?, version = version + 1 WHERE id = ?
	`, subscribed, r.timestamp(), id)
}

// SetLiveMenu records messageID as the user's live menu, replacing any previous one.
func (r *UserRepository) SetLiveMenu(ctx context.Context, id int64, messageID int) error {
	return r.execOne(ctx, `
		UPDATE users SET live_menu_message_id = ?, updated_at = ?, version = version + 1 WHERE id = ?
	`, messageID, r.timestamp(), id)
}

// ClearLiveMenu drops the live menu reference if it still equals stale.
func (r *UserRepository) ClearLiveMenu(ctx context.Context, id int64, stale int) (bool, error) {
	return r.execCond(ctx, `
		UPDATE users SET live_menu_message_id = 0, updated_at = ?, version = version + 1
		WHERE id = ? AND live_menu_message_id = ?
	`, r.timestamp(), id, stale)
}

// ClaimReminder marks the user as reminded for today. It reports false when
// the user was already reminded for today (or a later date) or is no longer
// subscribed, so concurrent or repeated fires deliver at most once.
func (r *UserRepository) ClaimReminder(ctx context.Context, id int64, today models.Date) (bool, error) {
	return r.execCond(ctx, `
		UPDATE users SET last_reminder_date = ?
		WHERE id = ? AND subscribed = 1 AND last_reminder_date < ?
	`, today, id, today)
}

// ReleaseReminder undoes a claim after a failed delivery so the next fire retries.
func (r *UserRepository) ReleaseReminder(ctx context.Context, id int64, claimed, previous models.Date) error {
	_, err := r.execCond(ctx, `
		UPDATE users SET last_reminder_date = ? WHERE id = ? AND last_reminder_date = ?
	`, previous, id, claimed)
	return err
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	ok, err := r.execCond(ctx, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) execCond(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		return false, err
	}
	return result.(int64) > 0, nil
}

func whereClause(f models.UserFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Subscribed != nil {
		conds = append(conds, "subscribed = ?")
		args = append(args, *f.Subscribed)
	}
	if f.Timezone != "" {
		conds = append(conds, "timezone = ?")
		args = append(args, f.Timezone)
	}
	if !f.InactiveBefore.IsZero() {
		conds = append(conds, "last_active_at < ?")
		args = append(args, f.InactiveBefore.UTC().Truncate(time.Second))
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// ScanPage returns up to limit records matching f with id > afterID, ordered by id.
func (r *UserRepository) ScanPage(ctx context.Context, f models.UserFilter, afterID int64, limit int) ([]models.UserProgress, error) {
	where, args := whereClause(f)
	args = append(args, afterID, limit)
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var users []models.UserProgress
		err := db.SelectContext(ctx, &users,
			`SELECT `+userColumns+` FROM users WHERE `+where+` AND id > ? ORDER BY id LIMIT ?`, args...)
		return users, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.UserProgress), nil
}

// Scan calls fn for every record matching f, one page at a time. The queue is
// not held while fn runs. A non-nil error from fn stops the scan.
func (r *UserRepository) Scan(ctx context.Context, f models.UserFilter, fn func(models.UserProgress) error) error {
	var afterID int64
	for {
		page, err := r.ScanPage(ctx, f, afterID, r.pageSize)
		if err != nil {
			return err
		}
		for _, u := range page {
			if err := fn(u); err != nil {
				return err
			}
		}
		if len(page) < r.pageSize {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}

// DeleteWhere removes the matching users and their completion history.
// An empty filter is rejected.
func (r *UserRepository) DeleteWhere(ctx context.Context, f models.UserFilter) (int64, error) {
	if f.IsEmpty() {
		return 0, ErrEmptyFilter
	}
	where, args := whereClause(f)
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM completions WHERE user_id IN (SELECT id FROM users WHERE `+where+`)`, args...); err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE `+where, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		return n, tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// SubscribedTimezones lists the distinct timezones that have at least one subscriber.
func (r *UserRepository) SubscribedTimezones(ctx context.Context) ([]string, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var zones []string
		err := db.SelectContext(ctx, &zones,
			`SELECT DISTINCT timezone FROM users WHERE subscribed = 1 ORDER BY timezone`)
		return zones, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Count returns the number of users matching f; an empty filter counts everyone.
func (r *UserRepository) Count(ctx context.Context, f models.UserFilter) (int, error) {
	where, args := whereClause(f)
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var n int
		err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE `+where, args...)
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Leaders returns the users with the longest current streaks, ties broken by
// progress and then by who got there first.
func (r *UserRepository) Leaders(ctx context.Context, limit int) ([]models.UserProgress, error) {
	result, err := r.queue.Execute(ctx, func(db *sqlx.DB) (interface{}, error) {
		var users []models.UserProgress
		err := db.SelectContext(ctx, &users, `
			SELECT `+userColumns+` FROM users
			WHERE streak > 0
			ORDER BY streak DESC, day DESC, last_completed_date ASC, id ASC
			LIMIT ?
		`, limit)
		return users, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.UserProgress), nil
}

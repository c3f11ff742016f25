package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"
)

const DateLayout = "2006-01-02"

// Date is a calendar date without time of day, stored as YYYY-MM-DD.
// The zero value means "absent".
type Date string

func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date(s), nil
}

func (d Date) IsZero() bool {
	return d == ""
}

func (d Date) Time() (time.Time, error) {
	return time.Parse(DateLayout, string(d))
}

// AddDays returns the date n days later. An absent date stays absent.
func (d Date) AddDays(n int) Date {
	t, err := d.Time()
	if err != nil {
		return ""
	}
	return Date(t.AddDate(0, 0, n).Format(DateLayout))
}

func (d Date) String() string {
	return string(d)
}

// AchievementKeys is the append-only set of granted achievement keys.
type AchievementKeys []string

func AchievementKey(threshold int) string {
	return strconv.Itoa(threshold)
}

func (k AchievementKeys) Has(key string) bool {
	return slices.Contains(k, key)
}

func (k AchievementKeys) With(key string) AchievementKeys {
	if k.Has(key) {
		return k
	}
	out := make(AchievementKeys, 0, len(k)+1)
	out = append(out, k...)
	return append(out, key)
}

func (k AchievementKeys) Value() (driver.Value, error) {
	if k == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(k))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (k *AchievementKeys) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*k = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("achievement keys: unsupported column type")
	}
	if len(data) == 0 {
		*k = nil
		return nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("achievement keys: %w", err)
	}
	*k = keys
	return nil
}

type UserProgress struct {
	ID                int64           `db:"id"`
	DisplayName       string          `db:"display_name"`
	Day               int             `db:"day"`
	Streak            int             `db:"streak"`
	LastCompletedDate Date            `db:"last_completed_date"`
	Achievements      AchievementKeys `db:"achievements"`
	Subscribed        bool            `db:"subscribed"`
	Timezone          string          `db:"timezone"`
	LiveMenuMessageID int             `db:"live_menu_message_id"`
	LastReminderDate  Date            `db:"last_reminder_date"`
	State             string          `db:"state"`
	Finished          bool            `db:"finished"`
	LastActiveAt      time.Time       `db:"last_active_at"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
	Version           int64           `db:"version"`
}

func NewUserProgress(id int64, timezone string) UserProgress {
	return UserProgress{
		ID:           id,
		Day:          1,
		Timezone:     timezone,
		Achievements: AchievementKeys{},
	}
}

// Location resolves the user's timezone, falling back to UTC for names
// the runtime tz database does not know.
func (u *UserProgress) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (u *UserProgress) Today(now time.Time) Date {
	return DateOf(now, u.Location())
}

// Clone copies the record so that callers mutating the result never share
// the achievements slice with the original.
func (u UserProgress) Clone() UserProgress {
	u.Achievements = slices.Clone(u.Achievements)
	return u
}

// UserPatch carries the fields of a partial upsert. Nil fields are left as stored.
type UserPatch struct {
	DisplayName *string
	Subscribed  *bool
	Timezone    *string
	State       *string
}

func (p UserPatch) Apply(u *UserProgress) {
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.Subscribed != nil {
		u.Subscribed = *p.Subscribed
	}
	if p.Timezone != nil {
		u.Timezone = *p.Timezone
	}
	if p.State != nil {
		u.State = *p.State
	}
}

func (p UserPatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Subscribed == nil && p.Timezone == nil && p.State == nil
}

// UserFilter is the predicate for scans and deletes. Zero fields do not filter.
type UserFilter struct {
	Subscribed     *bool
	Timezone       string
	InactiveBefore time.Time
}

func (f UserFilter) IsEmpty() bool {
	return f.Subscribed == nil && f.Timezone == "" && f.InactiveBefore.IsZero()
}

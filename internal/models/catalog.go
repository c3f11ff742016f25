package models

type EndPolicy string

const (
	EndSaturate EndPolicy = "saturate"
	EndWrap     EndPolicy = "wrap"
)

// TaskSequence holds task texts for days 1..N at indexes 0..N-1.
type TaskSequence []string

func (s TaskSequence) Len() int {
	return len(s)
}

// Task returns the text for a 1-based day, clamping out-of-range values.
func (s TaskSequence) Task(day int) string {
	if len(s) == 0 {
		return ""
	}
	if day < 1 {
		day = 1
	}
	if day > len(s) {
		day = len(s)
	}
	return s[day-1]
}

type AchievementRule struct {
	Threshold int    `db:"threshold" yaml:"threshold"`
	Reward    string `db:"reward" yaml:"reward"`
}

func (r AchievementRule) Key() string {
	return AchievementKey(r.Threshold)
}

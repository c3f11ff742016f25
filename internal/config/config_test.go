package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestLoadDefaultsAndEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ADMIN_ID", "42")
	t.Setenv("BOT_TIMEZONE", "Europe/Moscow")
	t.Setenv("REMINDER_HOUR", "07:30")
	t.Setenv("RENDER_EXTERNAL_HOSTNAME", "daily.example.com")
	t.Setenv("PORT", "8080")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotToken != "123:abc" || cfg.AdminID != 42 || cfg.DefaultTimezone != "Europe/Moscow" {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.ReminderHour != 7 || cfg.ReminderMinute != 30 {
		t.Fatalf("reminder time = %d:%d", cfg.ReminderHour, cfg.ReminderMinute)
	}
	if cfg.WebhookURL != "https://daily.example.com/webhook" || !cfg.WebhookMode() {
		t.Fatalf("webhook url not derived: %q", cfg.WebhookURL)
	}
	if cfg.HTTPAddr() != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr())
	}
	if cfg.RateLimitCalls != 60 || cfg.RateLimitPeriod != time.Minute || cfg.RetryAttempts != 5 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.WebhookCheckEvery() != 10*time.Minute {
		t.Fatalf("webhook check = %v", cfg.WebhookCheckEvery())
	}
}

func TestAdminIDPrefersPrimaryName(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOT_TOKEN", "x")
	t.Setenv("ADMIN_ID", "7")
	t.Setenv("TELEGRAM_ADMIN_ID", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AdminID != 7 {
		t.Fatalf("admin id = %d", cfg.AdminID)
	}
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "bot.yaml")
	data := []byte(`
bot_token: "file-token"
rate_limit_calls: 30
rate_limit_period: 30s
sequence_end_policy: wrap
log_json: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotToken != "file-token" || cfg.RateLimitCalls != 30 || cfg.RateLimitPeriod != 30*time.Second {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if cfg.SequenceEndPolicy != "wrap" || !cfg.LogJSON {
		t.Fatalf("file not applied: %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("explicit missing file must fail, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{}},
		{"bad timezone", map[string]string{"BOT_TOKEN": "x", "BOT_TIMEZONE": "Mars/Olympus"}},
		{"bad reminder time", map[string]string{"BOT_TOKEN": "x", "REMINDER_HOUR": "25:00"}},
		{"bad policy", map[string]string{"BOT_TOKEN": "x", "SEQUENCE_END_POLICY": "loop"}},
		{"bad limiter", map[string]string{"BOT_TOKEN": "x", "RATE_LIMIT_CALLS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("BOT_TOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := rapid.IntRange(0, 23).Draw(rt, "hour")
		m := rapid.IntRange(0, 59).Draw(rt, "minute")

		hour, minute, err := ParseClock(fmtClock(h, m))
		if err != nil || hour != h || minute != m {
			rt.Fatalf("ParseClock(%q) = %d, %d, %v", fmtClock(h, m), hour, minute, err)
		}
	})

	if h, m, err := ParseClock("9"); err != nil || h != 9 || m != 0 {
		t.Fatalf("bare hour: %d %d %v", h, m, err)
	}
	for _, bad := range []string{"", "ab:cd", "24:00", "10:60", "-1:00"} {
		if _, _, err := ParseClock(bad); err == nil {
			t.Fatalf("%q must be rejected", bad)
		}
	}
}

func fmtClock(h, m int) string {
	return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC).Format("15:04")
}

// Package config loads process configuration from defaults, an optional
// config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var ErrConfiguration = errors.New("configuration error")

type Config struct {
	BotToken        string `mapstructure:"bot_token"        validate:"required"`
	AdminID         int64  `mapstructure:"admin_id"         validate:"gte=0"`
	DBPath          string `mapstructure:"db_path"          validate:"required"`
	DefaultTimezone string `mapstructure:"default_timezone" validate:"required,timezone"`
	ReminderTime    string `mapstructure:"reminder_time"    validate:"required"`

	RateLimitCalls      int           `mapstructure:"rate_limit_calls"      validate:"min=1"`
	RateLimitPeriod     time.Duration `mapstructure:"rate_limit_period"     validate:"min=1s"`
	RetryAttempts       int           `mapstructure:"retry_attempts"        validate:"min=1,max=10"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"      validate:"min=1ms"`
	DeliveryTimeout     time.Duration `mapstructure:"delivery_timeout"      validate:"min=1s"`
	RecipientTimeout    time.Duration `mapstructure:"recipient_timeout"     validate:"min=1s"`
	ReminderConcurrency int           `mapstructure:"reminder_concurrency"  validate:"min=1,max=100"`

	TimezoneRefreshInterval time.Duration `mapstructure:"timezone_refresh_interval" validate:"min=10s"`
	RetentionSchedule       string        `mapstructure:"retention_schedule"        validate:"required"`
	RetentionInactivity     time.Duration `mapstructure:"retention_inactivity"      validate:"min=0"`
	SequenceEndPolicy       string        `mapstructure:"sequence_end_policy"       validate:"oneof=saturate wrap"`

	WebhookURL           string `mapstructure:"webhook_url"            validate:"omitempty,url"`
	WebhookSecret        string `mapstructure:"webhook_secret"`
	WebhookCheckInterval int    `mapstructure:"webhook_check_interval" validate:"min=1"`
	RenderHostname       string `mapstructure:"render_external_hostname"`
	Port                 string `mapstructure:"port"                   validate:"required,numeric"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogJSON   bool   `mapstructure:"log_json"`
	TasksFile string `mapstructure:"tasks_file"`

	ReminderHour   int `mapstructure:"-"`
	ReminderMinute int `mapstructure:"-"`
}

// env lists the externally documented variable names for keys whose name
// differs from the upper-cased key.
var env = map[string][]string{
	"admin_id":         {"ADMIN_ID", "TELEGRAM_ADMIN_ID"},
	"default_timezone": {"BOT_TIMEZONE"},
	"reminder_time":    {"REMINDER_HOUR"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "data/bot.db")
	v.SetDefault("default_timezone", "UTC")
	v.SetDefault("reminder_time", "09:00")
	v.SetDefault("admin_id", 0)

	v.SetDefault("rate_limit_calls", 60)
	v.SetDefault("rate_limit_period", time.Minute)
	v.SetDefault("retry_attempts", 5)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("delivery_timeout", 2*time.Minute)
	v.SetDefault("recipient_timeout", 3*time.Minute)
	v.SetDefault("reminder_concurrency", 4)

	v.SetDefault("timezone_refresh_interval", 10*time.Minute)
	v.SetDefault("retention_schedule", "CRON_TZ=UTC 0 0 * * *")
	v.SetDefault("retention_inactivity", 90*24*time.Hour)
	v.SetDefault("sequence_end_policy", "saturate")

	v.SetDefault("webhook_check_interval", 10)
	v.SetDefault("port", "10000")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Load reads configuration. An empty path searches for config.yaml in the
// working directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	for key, names := range env {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %v", ErrConfiguration, key, err)
		}
	}
	for _, key := range []string{"bot_token", "db_path", "webhook_url", "webhook_secret", "render_external_hostname", "tasks_file", "port"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %v", ErrConfiguration, key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read config: %v", ErrConfiguration, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrConfiguration, err)
	}

	if cfg.WebhookURL == "" && cfg.RenderHostname != "" {
		cfg.WebhookURL = "https://" + cfg.RenderHostname + "/webhook"
	}
	hour, minute, err := ParseClock(cfg.ReminderTime)
	if err != nil {
		return nil, fmt.Errorf("%w: reminder_time: %v", ErrConfiguration, err)
	}
	cfg.ReminderHour, cfg.ReminderMinute = hour, minute

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

// ParseClock parses a wall-clock time written as "HH:MM" or a bare hour.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	h, m, found := strings.Cut(s, ":")
	if hour, err = strconv.Atoi(h); err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	if found {
		if minute, err = strconv.Atoi(m); err != nil {
			return 0, 0, fmt.Errorf("invalid minute in %q", s)
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return hour, minute, nil
}

func (c *Config) HTTPAddr() string {
	return ":" + c.Port
}

func (c *Config) WebhookMode() bool {
	return c.WebhookURL != ""
}

func (c *Config) WebhookCheckEvery() time.Duration {
	return time.Duration(c.WebhookCheckInterval) * time.Minute
}

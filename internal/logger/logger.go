// Package logger builds the process-wide zap logger and adapters for the
// libraries that expect their own logging interfaces.
package logger

import (
	"fmt"
	"strings"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func New(level string, json bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

type gocronLogger struct {
	log *zap.SugaredLogger
}

// Gocron adapts a zap logger to gocron.Logger.
func Gocron(l *zap.Logger) gocron.Logger {
	return &gocronLogger{log: l.Named("scheduler").Sugar()}
}

func (g *gocronLogger) Debug(msg string, args ...any) { g.log.Debugw(msg, args...) }
func (g *gocronLogger) Info(msg string, args ...any)  { g.log.Infow(msg, args...) }
func (g *gocronLogger) Warn(msg string, args ...any)  { g.log.Warnw(msg, args...) }
func (g *gocronLogger) Error(msg string, args ...any) { g.log.Errorw(msg, args...) }

type BotLogger struct {
	log *zap.Logger
}

// Bot adapts a zap logger to the telegram client's debug/error handlers.
func Bot(l *zap.Logger) *BotLogger {
	return &BotLogger{log: l.Named("telegram")}
}

func (b *BotLogger) Debug(format string, args ...any) {
	b.log.Debug(fmt.Sprintf(format, args...))
}

func (b *BotLogger) Error(err error) {
	b.log.Warn("telegram client error", zap.Error(err))
}

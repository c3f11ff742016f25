package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"go.uber.org/zap"
)

// Sender delivers one standalone message. Implemented by DeliveryGateway.
type Sender interface {
	Send(ctx context.Context, chatID int64, view models.View) (int, error)
}

type AchievementNotifier struct {
	sender Sender
	log    *zap.Logger
}

func NewAchievementNotifier(sender Sender, log *zap.Logger) *AchievementNotifier {
	return &AchievementNotifier{
		sender: sender,
		log:    log.Named("achievements"),
	}
}

var thresholdEmojis = map[int]string{
	3:  "🌱",
	5:  "🌿",
	7:  "🌳",
	14: "🏅",
	30: "🏆",
}

func AchievementEmoji(rule models.AchievementRule) string {
	if emoji, ok := thresholdEmojis[rule.Threshold]; ok {
		return emoji
	}
	return "🎖"
}

func (n *AchievementNotifier) FormatNotification(rule models.AchievementRule) string {
	return fmt.Sprintf(
		"🎉 Поздравляем! Вы получили достижение!\n\n%s %s\n\n%s",
		AchievementEmoji(rule),
		FormatBold(rule.Reward),
		EscapeHTML(fmt.Sprintf("Серия из %d дней подряд.", rule.Threshold)),
	)
}

// NotifyAchievements sends one message per unlocked rule in the given order.
// It stops early once the recipient turns out to be unreachable.
func (n *AchievementNotifier) NotifyAchievements(ctx context.Context, userID int64, unlocked []models.AchievementRule) error {
	var errs []error
	for _, rule := range unlocked {
		_, err := n.sender.Send(ctx, userID, models.View{Text: n.FormatNotification(rule)})
		if err == nil {
			continue
		}
		n.log.Warn("achievement notification failed",
			zap.Int64("user_id", userID),
			zap.String("achievement", rule.Key()),
			zap.Error(err))
		errs = append(errs, err)
		if errors.Is(err, ErrRecipientUnreachable) {
			break
		}
	}
	return errors.Join(errs...)
}

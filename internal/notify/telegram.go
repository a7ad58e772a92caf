// Package notify is the boundary between request events and chat messages:
// it renders events for Telegram and moves them between the submitter and
// moderator bots.
package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

// Sender is the part of *tgbotapi.BotAPI used to deliver messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Directory lists the chats that receive moderator events.
type Directory interface {
	ChatIDs(ctx context.Context) ([]int64, error)
}

// SubmitterTelegram renders submitter events through the user-facing bot.
type SubmitterTelegram struct {
	sender Sender
	rules  payment.Rules
	logger *zap.Logger
}

func NewSubmitterTelegram(sender Sender, rules payment.Rules, logger *zap.Logger) *SubmitterTelegram {
	return &SubmitterTelegram{
		sender: sender,
		rules:  rules,
		logger: logger,
	}
}

func (t *SubmitterTelegram) Notify(_ context.Context, ev payment.Event) error {
	for _, msg := range SubmitterMessages(ev, t.rules) {
		if _, err := t.sender.Send(msg); err != nil {
			return fmt.Errorf("SubmitterTelegram.Notify: %w", err)
		}
	}

	return nil
}

// ModeratorTelegram fans moderator events out to every registered moderator.
type ModeratorTelegram struct {
	sender    Sender
	directory Directory
	catalog   payment.Catalog
	logger    *zap.Logger
}

func NewModeratorTelegram(sender Sender, directory Directory, catalog payment.Catalog, logger *zap.Logger) *ModeratorTelegram {
	return &ModeratorTelegram{
		sender:    sender,
		directory: directory,
		catalog:   catalog,
		logger:    logger,
	}
}

// Notify keeps going when one moderator cannot be reached and reports the
// collected failures at the end.
func (t *ModeratorTelegram) Notify(ctx context.Context, ev payment.Event) error {
	chatIDs, err := t.directory.ChatIDs(ctx)
	if err != nil {
		return fmt.Errorf("ModeratorTelegram.Notify: %w", err)
	}

	var errs []error
	for _, chatID := range chatIDs {
		for _, msg := range ModeratorMessages(chatID, ev, t.catalog) {
			if _, err := t.sender.Send(msg); err != nil {
				t.logger.Warn("cannot notify moderator",
					zap.Int64("chat_id", chatID),
					zap.String("request_id", ev.Request.ID),
					zap.Error(err),
				)
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("ModeratorTelegram.Notify: %w", errors.Join(errs...))
	}

	return nil
}

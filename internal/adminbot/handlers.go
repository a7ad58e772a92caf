package adminbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gratefultolord/payverify_bot/internal/command"
	"github.com/gratefultolord/payverify_bot/internal/dispatch"
	"github.com/gratefultolord/payverify_bot/internal/notify"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

// API is the part of *tgbotapi.BotAPI the bot needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Moderation interface {
	Claim(ctx context.Context, id string, moderator int64) (*payment.Request, error)
	Approve(ctx context.Context, id string, moderator int64) (*payment.Request, error)
	Reject(ctx context.Context, id string, moderator int64, f payment.Field) (*payment.Request, error)
	Unclaim(ctx context.Context, id string, moderator int64) (*payment.Request, error)
	NextPending(ctx context.Context) (*payment.Request, error)
	ClaimedBy(ctx context.Context, moderator int64) ([]*payment.Request, error)
	Rules() payment.Rules
}

type Moderators interface {
	IsModerator(ctx context.Context, chatID int64) (bool, error)
	Create(ctx context.Context, chatID int64) error
}

type BotService struct {
	botAPI     API
	moderation Moderation
	moderators Moderators
	logger     *zap.Logger
	workers    int

	mu          sync.Mutex
	adminStates map[int64]*AdminState
}

func New(
	botAPI API,
	moderation Moderation,
	moderators Moderators,
	logger *zap.Logger,
	workers int,
) *BotService {
	return &BotService{
		botAPI:      botAPI,
		moderation:  moderation,
		moderators:  moderators,
		logger:      logger,
		workers:     workers,
		adminStates: make(map[int64]*AdminState),
	}
}

// Start polls updates until ctx is cancelled. Messages and button presses
// of one moderator are handled in order; different moderators race freely
// and are arbitrated by the claim.
func (b *BotService) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.botAPI.GetUpdatesChan(u)

	pool := dispatch.NewPool(b.workers, 16)
	defer pool.Close()

	for {
		select {
		case <-ctx.Done():
			b.botAPI.StopReceivingUpdates()
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}

			switch {
			case update.CallbackQuery != nil:
				query := update.CallbackQuery
				pool.Submit(query.From.ID, func() {
					b.HandleCallback(ctx, query)
				})

			case update.Message != nil:
				message := update.Message
				pool.Submit(message.Chat.ID, func() {
					b.HandleMessage(ctx, message)
				})
			}
		}
	}
}

func (b *BotService) authorized(ctx context.Context, chatID int64) bool {
	isModerator, err := b.moderators.IsModerator(ctx, chatID)
	if err != nil {
		b.logger.Error("cannot check moderator", zap.Int64("chat_id", chatID), zap.Error(err))
		return false
	}

	return isModerator
}

func (b *BotService) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)

	if !b.authorized(ctx, chatID) {
		b.sendText(chatID, "Access denied")
		return
	}

	if b.step(chatID) == StateAddingModerator {
		b.handleAddingModerator(ctx, chatID, text)
		return
	}

	switch text {
	case ButtonCheckRequests, "/next":
		b.handleCheckRequests(ctx, chatID)
	case ButtonMyClaims, "/mine":
		b.handleMyClaims(ctx, chatID)
	case ButtonAddModerator:
		b.handleAddModerator(chatID)
	default:
		b.handleMainMenu(chatID)
	}
}

func (b *BotService) HandleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	moderator := query.From.ID

	if !b.authorized(ctx, moderator) {
		b.answer(query, "Access denied")
		return
	}

	cmd, err := command.ParseCallback(query.Data)
	if err != nil {
		b.logger.Warn("unknown callback", zap.String("data", query.Data), zap.Error(err))
		b.answer(query, "Unknown action")
		return
	}

	log := b.logger.With(
		zap.Int64("moderator", moderator),
		zap.String("request_id", cmd.RequestID),
		zap.String("action", string(cmd.Action)),
	)

	switch cmd.Action {
	case command.ActionClaim:
		req, err := b.moderation.Claim(ctx, cmd.RequestID, moderator)
		if err != nil {
			b.deny(query, log, err)
			return
		}

		b.answer(query, "Claimed")
		msg := tgbotapi.NewMessage(moderator,
			notify.ModeratorCard(req, b.moderation.Rules().Catalog, "🔒 You are reviewing this request"))
		msg.ReplyMarkup = notify.DecisionKeyboard(req.ID)
		b.sendMessage(msg)

	case command.ActionPickReject:
		b.answer(query, "Which part is wrong?")
		if query.Message != nil {
			edit := tgbotapi.NewEditMessageReplyMarkup(
				query.Message.Chat.ID, query.Message.MessageID, notify.RejectFieldKeyboard(cmd.RequestID))
			b.sendMessage(edit)
		}

	case command.ActionApprove:
		if _, err := b.moderation.Approve(ctx, cmd.RequestID, moderator); err != nil {
			b.deny(query, log, err)
			return
		}

		b.answer(query, "Approved")
		b.sendText(moderator, fmt.Sprintf("✅ Request #%s approved", notify.ShortID(cmd.RequestID)))
		b.handleCheckRequests(ctx, moderator)

	case command.ActionReject:
		req, err := b.moderation.Reject(ctx, cmd.RequestID, moderator, cmd.Field)
		if err != nil {
			b.deny(query, log, err)
			return
		}

		b.answer(query, "Rejected")
		if req.Status == payment.StatusRejected {
			b.sendText(moderator, fmt.Sprintf("❌ Request #%s rejected for good: no corrections left", notify.ShortID(req.ID)))
		} else {
			b.sendText(moderator, fmt.Sprintf("↩️ Request #%s sent back to fix the %s",
				notify.ShortID(req.ID), notify.FieldLabel(cmd.Field)))
		}
		b.handleCheckRequests(ctx, moderator)

	case command.ActionRelease:
		if _, err := b.moderation.Unclaim(ctx, cmd.RequestID, moderator); err != nil {
			b.deny(query, log, err)
			return
		}

		b.answer(query, "Released")
	}
}

// deny renders a refused action. Expected outcomes never expose the
// request's internal state; only a lost claim race gets its own wording.
func (b *BotService) deny(query *tgbotapi.CallbackQuery, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, payment.ErrAlreadyClaimed):
		b.answer(query, "Someone else is already handling this request")
	case payment.IsExpected(err):
		log.Info("moderator action denied", zap.String("reason", payment.ErrorKind(err)))
		b.answer(query, "This action is not available")
	default:
		log.Error("moderator action failed", zap.Error(err))
		b.answer(query, "Could not complete the action, please try again")
	}
}

func (b *BotService) handleMainMenu(chatID int64) {
	b.setStep(chatID, StateMainMenu)

	msg := tgbotapi.NewMessage(chatID, "Main menu:")
	msg.ReplyMarkup = AdminMainMenu()
	b.sendMessage(msg)
}

func (b *BotService) handleCheckRequests(ctx context.Context, chatID int64) {
	req, err := b.moderation.NextPending(ctx)
	if errors.Is(err, payment.ErrNotFound) {
		msg := tgbotapi.NewMessage(chatID, "No new requests")
		msg.ReplyMarkup = AdminMainMenu()
		b.sendMessage(msg)
		return
	}

	if err != nil {
		b.logger.Error("cannot load pending request", zap.Error(err))
		b.sendText(chatID, "Could not load requests.")
		return
	}

	card := notify.ModeratorCard(req, b.moderation.Rules().Catalog, "📥 Next request")
	b.sendMessage(notify.ProofMessage(chatID, req, card, notify.ClaimKeyboard(req.ID)))
}

// handleMyClaims resends the decision card of every request the moderator
// holds, so a claim whose card never arrived can still be decided or
// released.
func (b *BotService) handleMyClaims(ctx context.Context, chatID int64) {
	held, err := b.moderation.ClaimedBy(ctx, chatID)
	if err != nil {
		b.logger.Error("cannot load claimed requests", zap.Int64("moderator", chatID), zap.Error(err))
		b.sendText(chatID, "Could not load requests.")
		return
	}

	if len(held) == 0 {
		msg := tgbotapi.NewMessage(chatID, "You have no claimed requests")
		msg.ReplyMarkup = AdminMainMenu()
		b.sendMessage(msg)
		return
	}

	catalog := b.moderation.Rules().Catalog
	for _, req := range held {
		card := notify.ModeratorCard(req, catalog, "🔒 You are reviewing this request")
		b.sendMessage(notify.ProofMessage(chatID, req, card, notify.DecisionKeyboard(req.ID)))
	}
}

func (b *BotService) handleAddModerator(chatID int64) {
	b.setStep(chatID, StateAddingModerator)

	msg := tgbotapi.NewMessage(chatID, "Enter the chat_id of the new moderator")
	msg.ReplyMarkup = CancelMenu()
	b.sendMessage(msg)
}

func (b *BotService) handleAddingModerator(ctx context.Context, chatID int64, text string) {
	if text == ButtonCancel {
		b.handleMainMenu(chatID)
		return
	}

	newChatID, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		msg := tgbotapi.NewMessage(chatID, "Invalid chat_id. Try again")
		msg.ReplyMarkup = CancelMenu()
		b.sendMessage(msg)
		return
	}

	if err := b.moderators.Create(ctx, newChatID); err != nil {
		b.logger.Error("cannot add moderator", zap.Int64("new_chat_id", newChatID), zap.Error(err))
		b.sendText(chatID, "Could not add the moderator")
	} else {
		b.logger.Info("moderator added", zap.Int64("by", chatID), zap.Int64("new_chat_id", newChatID))
		b.sendText(chatID, "Moderator added")
	}

	b.handleMainMenu(chatID)
}

func (b *BotService) step(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.adminStates[chatID]; ok {
		return state.Step
	}

	return StateMainMenu
}

func (b *BotService) setStep(chatID int64, step string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.adminStates[chatID] = &AdminState{Step: step}
}

func (b *BotService) answer(query *tgbotapi.CallbackQuery, text string) {
	if _, err := b.botAPI.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		b.logger.Warn("cannot answer callback", zap.Error(err))
	}
}

func (b *BotService) sendText(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (b *BotService) sendMessage(msg tgbotapi.Chattable) {
	if _, err := b.botAPI.Send(msg); err != nil {
		b.logger.Warn("cannot send message", zap.Error(err))
	}
}

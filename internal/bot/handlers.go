package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gratefultolord/payverify_bot/internal/dispatch"
	"github.com/gratefultolord/payverify_bot/internal/notify"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

// API is the part of *tgbotapi.BotAPI the bot needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Payments interface {
	Begin(ctx context.Context, submitter int64) (*payment.Request, error)
	SubmitField(ctx context.Context, id string, f payment.Field, v payment.Value) (*payment.Request, error)
	ActiveFor(ctx context.Context, submitter int64) (*payment.Request, error)
	Rules() payment.Rules
}

type Files interface {
	SaveFile(ctx context.Context, fileID string) (string, error)
	DeleteFile(path string) error
}

type BotService struct {
	botAPI   API
	payments Payments
	files    Files
	logger   *zap.Logger
	workers  int
}

func New(
	botAPI API,
	payments Payments,
	files Files,
	logger *zap.Logger,
	workers int,
) *BotService {
	return &BotService{
		botAPI:   botAPI,
		payments: payments,
		files:    files,
		logger:   logger,
		workers:  workers,
	}
}

// Start polls updates until ctx is cancelled.
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

			if update.Message == nil {
				continue
			}

			message := update.Message
			pool.Submit(message.Chat.ID, func() {
				b.HandleMessage(ctx, message)
			})
		}
	}
}

func (b *BotService) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)

	switch text {
	case "/start":
		b.handleStart(chatID)
		return
	case notify.ButtonDeposit, "/deposit":
		b.handleDeposit(ctx, chatID)
		return
	case notify.ButtonBankInfo, "/bankinfo":
		b.send(tgbotapi.NewMessage(chatID, notify.BankInfo(b.payments.Rules().Catalog)), notify.MainMenu())
		return
	case notify.ButtonStatus, "/status":
		b.handleStatus(ctx, chatID)
		return
	case notify.ButtonHelp, "/help":
		b.handleHelp(chatID)
		return
	}

	req, err := b.payments.ActiveFor(ctx, chatID)
	if errors.Is(err, payment.ErrNotFound) {
		b.send(tgbotapi.NewMessage(chatID, "Please choose an option from the menu"), notify.MainMenu())
		return
	}

	if err != nil {
		b.logger.Error("cannot load active request", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, "Something went wrong. Please try again later.")
		return
	}

	switch req.Status {
	case payment.StatusPendingReview:
		b.sendText(chatID, fmt.Sprintf("Request #%s is being reviewed. We will message you when it is done.", notify.ShortID(req.ID)))
	case payment.StatusCollecting, payment.StatusRejectedCorrecting:
		b.handleField(ctx, message, req)
	}
}

func (b *BotService) handleStart(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "👋 Welcome! Please choose an option:")
	msg.ReplyMarkup = notify.MainMenu()
	b.sendMessage(msg)
}

func (b *BotService) handleHelp(chatID int64) {
	text := "To confirm a deposit press \"" + notify.ButtonDeposit + "\" and send, one by one:\n" +
		"1. your account number\n" +
		"2. the amount you paid\n" +
		"3. the payment channel\n" +
		"4. a screenshot of the payment\n\n" +
		"A moderator checks every request. If something is wrong you will only be asked to resend that part."
	b.sendText(chatID, text)
}

func (b *BotService) handleDeposit(ctx context.Context, chatID int64) {
	req, err := b.payments.Begin(ctx, chatID)
	if errors.Is(err, payment.ErrConflict) {
		b.resume(ctx, chatID)
		return
	}

	if err != nil {
		b.logger.Error("cannot open request", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, "Something went wrong. Please try again later.")
		return
	}

	b.sendMessage(notify.FieldPrompt(chatID, req.ActiveStep, b.payments.Rules()))
}

// resume tells a submitter who already has an active request where it stands.
func (b *BotService) resume(ctx context.Context, chatID int64) {
	req, err := b.payments.ActiveFor(ctx, chatID)
	if err != nil {
		b.logger.Error("cannot load active request", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, "Something went wrong. Please try again later.")
		return
	}

	if req.Status == payment.StatusPendingReview {
		b.sendText(chatID, fmt.Sprintf("You already have request #%s under review.", notify.ShortID(req.ID)))
		return
	}

	b.sendText(chatID, "You already have an open request. Let's continue it.")
	b.sendMessage(notify.FieldPrompt(chatID, req.ActiveStep, b.payments.Rules()))
}

func (b *BotService) handleStatus(ctx context.Context, chatID int64) {
	req, err := b.payments.ActiveFor(ctx, chatID)
	if errors.Is(err, payment.ErrNotFound) {
		b.send(tgbotapi.NewMessage(chatID, "You have no open requests."), notify.MainMenu())
		return
	}

	if err != nil {
		b.logger.Error("cannot load active request", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, "Something went wrong. Please try again later.")
		return
	}

	var state string
	switch req.Status {
	case payment.StatusCollecting:
		state = "waiting for your " + notify.FieldLabel(req.ActiveStep)
	case payment.StatusRejectedCorrecting:
		state = "waiting for a corrected " + notify.FieldLabel(req.ActiveStep)
	default:
		state = "under review"
	}

	b.sendText(chatID, notify.Summary(req, b.payments.Rules().Catalog)+"\nStatus: "+state)
}

func (b *BotService) handleField(ctx context.Context, message *tgbotapi.Message, req *payment.Request) {
	chatID := message.Chat.ID
	step := req.ActiveStep

	value, stored, err := b.readValue(ctx, message, step)
	if err != nil {
		b.logger.Error("cannot save attachment",
			zap.Int64("chat_id", chatID),
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		b.sendText(chatID, "Could not save the file. Please send it again.")
		return
	}

	updated, err := b.payments.SubmitField(ctx, req.ID, step, value)
	if err != nil && stored != "" {
		if delErr := b.files.DeleteFile(stored); delErr != nil {
			b.logger.Warn("cannot delete rejected attachment", zap.String("path", stored), zap.Error(delErr))
		}
	}

	var verr *payment.ValidationError
	switch {
	case errors.As(err, &verr):
		b.sendText(chatID, fmt.Sprintf("⚠️ Invalid %s: %s.", notify.FieldLabel(verr.Field), verr.Reason))
		b.sendMessage(notify.FieldPrompt(chatID, step, b.payments.Rules()))
		return

	case payment.IsExpected(err):
		b.sendText(chatID, "This action is not available right now.")
		return

	case err != nil:
		b.logger.Error("cannot submit field",
			zap.Int64("chat_id", chatID),
			zap.String("request_id", req.ID),
			zap.String("field", string(step)),
			zap.Error(err),
		)
		b.sendText(chatID, "Something went wrong. Please send it again.")
		return
	}

	if updated.Status == payment.StatusPendingReview {
		text := fmt.Sprintf("Thank you! Request #%s was sent for review.\n\n%s",
			notify.ShortID(updated.ID), notify.Summary(updated, b.payments.Rules().Catalog))
		b.send(tgbotapi.NewMessage(chatID, text), notify.MainMenu())
		return
	}

	b.sendMessage(notify.FieldPrompt(chatID, updated.ActiveStep, b.payments.Rules()))
}

// readValue turns a message into a field value. Attachments are downloaded
// first; stored is the local path to clean up if the value is refused.
func (b *BotService) readValue(ctx context.Context, message *tgbotapi.Message, step payment.Field) (value payment.Value, stored string, err error) {
	if step != payment.FieldProof {
		return payment.Text(message.Text), "", nil
	}

	var att payment.Attachment
	var fileID string

	switch {
	case len(message.Photo) > 0:
		fileID = largestPhoto(message.Photo)
		att.Kind = payment.AttachmentPhoto
	case message.Document != nil:
		fileID = message.Document.FileID
		att.Kind = payment.AttachmentDocument
		att.MimeType = message.Document.MimeType
	default:
		return payment.Text(message.Text), "", nil
	}

	path, err := b.files.SaveFile(ctx, fileID)
	if err != nil {
		return payment.Value{}, "", err
	}

	att.Ref = path

	return payment.File(att), path, nil
}

func (b *BotService) sendText(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (b *BotService) send(msg tgbotapi.MessageConfig, markup interface{}) {
	msg.ReplyMarkup = markup
	b.sendMessage(msg)
}

func (b *BotService) sendMessage(msg tgbotapi.Chattable) {
	if _, err := b.botAPI.Send(msg); err != nil {
		b.logger.Warn("cannot send message", zap.Error(err))
	}
}

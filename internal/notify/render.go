package notify

import (
	"fmt"
	"strings"

	"github.com/AlekSi/pointer"
	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gratefultolord/payverify_bot/internal/command"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

var fieldLabels = map[payment.Field]string{
	payment.FieldIdentifier: "account number",
	payment.FieldAmount:     "amount",
	payment.FieldChannel:    "payment channel",
	payment.FieldProof:      "payment screenshot",
}

func FieldLabel(f payment.Field) string {
	if label, ok := fieldLabels[f]; ok {
		return label
	}

	return string(f)
}

// ShortID is the request id shown in chats.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func FormatAmount(amount int64) string {
	return humanize.Comma(amount) + " MMK"
}

// FieldPrompt asks the submitter for field f.
func FieldPrompt(chatID int64, f payment.Field, rules payment.Rules) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig

	switch f {
	case payment.FieldIdentifier:
		msg = tgbotapi.NewMessage(chatID, "Enter your account number (9 to 13 digits)")
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)

	case payment.FieldAmount:
		msg = tgbotapi.NewMessage(chatID,
			fmt.Sprintf("Enter the amount you paid in MMK (minimum %s)", FormatAmount(rules.MinAmount)))
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)

	case payment.FieldChannel:
		msg = tgbotapi.NewMessage(chatID, "Choose the payment channel you used")
		msg.ReplyMarkup = ChannelKeyboard(rules.Catalog)

	case payment.FieldProof:
		msg = tgbotapi.NewMessage(chatID, "Send a screenshot of the payment as a photo or document")
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)

	default:
		msg = tgbotapi.NewMessage(chatID, "Please follow the instructions above")
	}

	return msg
}

func ChannelKeyboard(catalog payment.Catalog) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton

	for i := 0; i < len(catalog); i += 2 {
		row := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(catalog[i].Name))
		if i+1 < len(catalog) {
			row = append(row, tgbotapi.NewKeyboardButton(catalog[i+1].Name))
		}
		rows = append(rows, row)
	}

	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.OneTimeKeyboard = true

	return keyboard
}

// Summary lists the collected fields of req.
func Summary(req *payment.Request, catalog payment.Catalog) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Request #%s\n", ShortID(req.ID))
	fmt.Fprintf(&b, "Account: %s\n", valueOrDash(pointer.GetString(req.Identifier)))

	amount := "-"
	if req.Amount != nil {
		amount = FormatAmount(*req.Amount)
	}
	fmt.Fprintf(&b, "Amount: %s\n", amount)

	channel := "-"
	if req.Channel != nil {
		channel = catalog.Name(*req.Channel)
	}
	fmt.Fprintf(&b, "Channel: %s", channel)

	return b.String()
}

// ModeratorCard is the review card shown to moderators.
func ModeratorCard(req *payment.Request, catalog payment.Catalog, header string) string {
	var b strings.Builder

	if header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}

	b.WriteString(Summary(req, catalog))
	fmt.Fprintf(&b, "\nUser: %d", req.Submitter)

	if req.Corrections > 0 {
		fmt.Fprintf(&b, "\nCorrections: %d", req.Corrections)
	}

	return b.String()
}

func ClaimKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🙋 Claim", command.Claim(id).Data()),
		),
	)
}

// DecisionKeyboard is shown to the claimant only.
func DecisionKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", command.Approve(id).Data()),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", command.PickReject(id).Data()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("↩️ Release", command.Release(id).Data()),
		),
	)
}

// RejectFieldKeyboard lets the claimant pick the field to reopen.
func RejectFieldKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for _, f := range payment.Fields {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Wrong "+FieldLabel(f), command.Reject(id, f).Data()),
		))
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ProofMessage sends the proof attachment with caption and keyboard. It
// falls back to a text message when the request carries no proof.
func ProofMessage(chatID int64, req *payment.Request, caption string, markup interface{}) tgbotapi.Chattable {
	if req.Proof == nil {
		msg := tgbotapi.NewMessage(chatID, caption)
		msg.ReplyMarkup = markup
		return msg
	}

	file := tgbotapi.FilePath(req.Proof.Ref)

	if req.Proof.Kind == payment.AttachmentPhoto {
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		photo.ReplyMarkup = markup
		return photo
	}

	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	doc.ReplyMarkup = markup

	return doc
}

// SubmitterMessages renders ev for the submitter.
func SubmitterMessages(ev payment.Event, rules payment.Rules) []tgbotapi.Chattable {
	req := ev.Request
	chatID := req.Submitter

	switch ev.Kind {
	case payment.EventApproved:
		text := fmt.Sprintf("✅ Your payment has been approved.\n\n%s", Summary(&req, rules.Catalog))
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = MainMenu()
		return []tgbotapi.Chattable{msg}

	case payment.EventRejected:
		if req.Status == payment.StatusRejected {
			msg := tgbotapi.NewMessage(chatID,
				"❌ Your request was rejected. You can start a new deposit if you want to try again.")
			msg.ReplyMarkup = MainMenu()
			return []tgbotapi.Chattable{msg}
		}

		notice := tgbotapi.NewMessage(chatID,
			fmt.Sprintf("⚠️ Request #%s needs a correction: please resend the %s. Everything else is kept.",
				ShortID(req.ID), FieldLabel(req.ActiveStep)))

		return []tgbotapi.Chattable{notice, FieldPrompt(chatID, req.ActiveStep, rules)}
	}

	return nil
}

// ModeratorMessages renders ev for one moderator.
func ModeratorMessages(chatID int64, ev payment.Event, catalog payment.Catalog) []tgbotapi.Chattable {
	req := ev.Request

	switch ev.Kind {
	case payment.EventReadyForReview:
		card := ModeratorCard(&req, catalog, "🆕 New payment to verify")
		return []tgbotapi.Chattable{ProofMessage(chatID, &req, card, ClaimKeyboard(req.ID))}

	case payment.EventResubmitted:
		header := fmt.Sprintf("🔁 Corrected %s resubmitted", FieldLabel(ev.Field))
		card := ModeratorCard(&req, catalog, header)
		return []tgbotapi.Chattable{ProofMessage(chatID, &req, card, ClaimKeyboard(req.ID))}

	case payment.EventReleased:
		card := ModeratorCard(&req, catalog, "↩️ Back in the queue")
		msg := tgbotapi.NewMessage(chatID, card)
		msg.ReplyMarkup = ClaimKeyboard(req.ID)
		return []tgbotapi.Chattable{msg}

	case payment.EventClaimed:
		if chatID == ev.Moderator {
			return nil
		}
		text := fmt.Sprintf("🔒 Request #%s was claimed by %d", ShortID(req.ID), ev.Moderator)
		return []tgbotapi.Chattable{tgbotapi.NewMessage(chatID, text)}
	}

	return nil
}

// BankInfo lists where submitters can pay, one block per channel.
func BankInfo(catalog payment.Catalog) string {
	var b strings.Builder
	b.WriteString("🏦 Pay to one of these accounts, then press \"" + ButtonDeposit + "\":\n")

	for _, ch := range catalog {
		b.WriteString("\n" + ch.Name + "\n")
		if ch.Account == "" {
			b.WriteString("Account: ask support\n")
			continue
		}
		b.WriteString("Account: " + ch.Account + "\n")
		b.WriteString("Holder: " + valueOrDash(ch.Holder) + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func MainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonDeposit),
			tgbotapi.NewKeyboardButton(ButtonBankInfo),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonStatus),
			tgbotapi.NewKeyboardButton(ButtonHelp),
		),
	)
}

const (
	ButtonDeposit  = "💰 Deposit"
	ButtonBankInfo = "🏦 Bank Info"
	ButtonStatus   = "📄 Status"
	ButtonHelp     = "🛟 Help"
)

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

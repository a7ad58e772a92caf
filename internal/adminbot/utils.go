package adminbot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	ButtonCheckRequests = "Check requests"
	ButtonMyClaims      = "My claims"
	ButtonAddModerator  = "Add moderator"
	ButtonCancel        = "Cancel"
)

func AdminMainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonCheckRequests),
			tgbotapi.NewKeyboardButton(ButtonMyClaims),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonAddModerator),
		),
	)
}

func CancelMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonCancel),
		),
	)
}

package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// largestPhoto returns the file id of the biggest size Telegram offers.
func largestPhoto(photos []tgbotapi.PhotoSize) string {
	best := photos[0]
	for _, p := range photos[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}

	return best.FileID
}

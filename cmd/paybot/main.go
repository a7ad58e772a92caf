package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gratefultolord/payverify_bot/internal/app"
	"github.com/gratefultolord/payverify_bot/internal/bot"
	"github.com/gratefultolord/payverify_bot/internal/files"
	"github.com/gratefultolord/payverify_bot/internal/notify"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Setup(ctx, "paybot")
	if err != nil {
		log.Fatalf("Error starting: %v", err)
	}
	defer rt.Close()

	cfg := rt.Config
	logger := rt.Logger

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal("cannot create telegram bot", zap.Error(err))
	}

	submitter := notify.NewSubmitterTelegram(botAPI, cfg.Rules(), logger)

	// Without a bus, moderator cards go out through the moderator bot token.
	var moderators payment.Notifier
	if rt.Bus == nil {
		adminAPI, err := tgbotapi.NewBotAPI(cfg.AdminBotToken)
		if err != nil {
			logger.Fatal("cannot create moderator bot client", zap.Error(err))
		}
		moderators = notify.NewModeratorTelegram(adminAPI, rt.Moderators, cfg.Catalog, logger)
	}

	fileService, err := files.NewFileService(botAPI, cfg.DocDir)
	if err != nil {
		logger.Fatal("cannot create file service", zap.Error(err))
	}

	service := rt.Service(rt.Notifier(submitter, moderators), fileService)

	botService := bot.New(botAPI, service, fileService, logger, cfg.Workers)

	logger.Info("bot started", zap.String("username", botAPI.Self.UserName))

	if err := rt.Run(ctx, payment.AudienceSubmitter, submitter, botService.Start); err != nil {
		logger.Error("bot stopped", zap.Error(err))
	}
}

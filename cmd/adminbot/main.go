package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gratefultolord/payverify_bot/internal/adminbot"
	"github.com/gratefultolord/payverify_bot/internal/app"
	"github.com/gratefultolord/payverify_bot/internal/files"
	"github.com/gratefultolord/payverify_bot/internal/notify"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Setup(ctx, "adminbot")
	if err != nil {
		log.Fatalf("Error starting: %v", err)
	}
	defer rt.Close()

	cfg := rt.Config
	logger := rt.Logger

	for _, chatID := range cfg.Moderators {
		if err := rt.Moderators.Create(ctx, chatID); err != nil {
			logger.Fatal("cannot seed moderator", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.AdminBotToken)
	if err != nil {
		logger.Fatal("cannot create telegram bot", zap.Error(err))
	}

	moderators := notify.NewModeratorTelegram(botAPI, rt.Moderators, cfg.Catalog, logger)

	// Without a bus, decisions reach submitters through the user bot token.
	var submitter payment.Notifier
	if rt.Bus == nil {
		userAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			logger.Fatal("cannot create user bot client", zap.Error(err))
		}
		submitter = notify.NewSubmitterTelegram(userAPI, cfg.Rules(), logger)
	}

	// Rejections run here, so this process removes cleared proof files from
	// the shared DOC_DIR.
	fileService, err := files.NewFileService(botAPI, cfg.DocDir)
	if err != nil {
		logger.Fatal("cannot create file service", zap.Error(err))
	}

	service := rt.Service(rt.Notifier(submitter, moderators), fileService)

	adminBotService := adminbot.New(botAPI, service, rt.Moderators, logger, cfg.Workers)

	logger.Info("admin bot started", zap.String("username", botAPI.Self.UserName))

	if err := rt.Run(ctx, payment.AudienceModerators, moderators, adminBotService.Start); err != nil {
		logger.Error("admin bot stopped", zap.Error(err))
	}
}

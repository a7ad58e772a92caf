// Package app wires the parts shared by the submitter and moderator bot
// processes: configuration, logging, storage, the event bus and metrics.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/gratefultolord/payverify_bot/internal/config"
	"github.com/gratefultolord/payverify_bot/internal/db"
	"github.com/gratefultolord/payverify_bot/internal/metrics"
	"github.com/gratefultolord/payverify_bot/internal/notify"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

type Runtime struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *db.DB
	Requests   *db.PaymentRequestRepository
	Moderators *db.ModeratorRepository
	Registry   *prometheus.Registry
	Recorder   *metrics.Recorder

	// Bus is nil when REDIS_URL is not set.
	Bus   *notify.RedisBus
	redis *redis.Client
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("app.NewLogger: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Setup loads the configuration and opens every shared dependency. The
// caller owns the returned Runtime and must Close it.
func Setup(ctx context.Context, name string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger = logger.Named(name)

	database, err := db.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := db.RunMigrations(database.Conn); err != nil {
		_ = database.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		DB:         database,
		Requests:   db.NewPaymentRequestRepository(database.Conn),
		Moderators: db.NewModeratorRepository(database.Conn),
		Registry:   reg,
		Recorder:   metrics.NewRecorder(reg),
	}

	if cfg.RedisURL != "" {
		rdb, err := notify.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		rt.redis = rdb
		rt.Bus = notify.NewRedisBus(rdb, logger)
	}

	logger.Info("runtime ready",
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("redis", rt.Bus != nil),
		zap.Int("channels", len(cfg.Catalog)),
	)

	return rt, nil
}

// Service builds the request service publishing to notifier. files removes
// proof files cleared by a rejection and may be nil.
func (rt *Runtime) Service(notifier payment.Notifier, files payment.FileRemover) *payment.Service {
	return payment.NewService(rt.Requests, payment.Options{
		Rules:          rt.Config.Rules(),
		MaxCorrections: rt.Config.MaxCorrections,
		Notifier:       notifier,
		Recorder:       rt.Recorder,
		Files:          files,
		Logger:         rt.Logger,
	})
}

// Notifier picks the outgoing route for service events. With a bus the
// peer process renders its own audience; without one both audiences are
// rendered here.
func (rt *Runtime) Notifier(submitter, moderators payment.Notifier) payment.Notifier {
	if rt.Bus != nil {
		return rt.Bus
	}

	return notify.NewRouter().
		Route(payment.AudienceSubmitter, submitter).
		Route(payment.AudienceModerators, moderators)
}

// Run blocks until ctx is cancelled or one of the components fails. local
// receives the bus events addressed to this process.
func (rt *Runtime) Run(ctx context.Context, audience payment.Audience, local payment.Notifier, bot func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return bot(ctx)
	})

	if rt.Bus != nil {
		g.Go(func() error {
			return rt.Bus.Subscribe(ctx, audience, local)
		})
	}

	if rt.Config.MetricsAddr != "" {
		g.Go(func() error {
			rt.Logger.Info("serving metrics", zap.String("addr", rt.Config.MetricsAddr))
			return metrics.Serve(ctx, rt.Config.MetricsAddr, rt.Registry)
		})
	}

	return g.Wait()
}

func (rt *Runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.Logger.Warn("cannot close redis", zap.Error(err))
		}
	}

	if err := rt.DB.Close(); err != nil {
		rt.Logger.Warn("cannot close database", zap.Error(err))
	}

	_ = rt.Logger.Sync()
}

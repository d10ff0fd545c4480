package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sweepbot/internal/api"
	"sweepbot/internal/bot"
	"sweepbot/internal/cleanup"
	"sweepbot/internal/config"
	"sweepbot/internal/executor"
	"sweepbot/internal/metrics"
	"sweepbot/internal/registry"
	"sweepbot/internal/scheduler"
	"sweepbot/internal/source"
	"sweepbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("load config", zap.Error(err))
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal("register metrics", zap.Error(err))
	}

	src := source.New(
		&http.Client{Timeout: cfg.Source.Timeout},
		cfg.Source.BaseURL,
		source.Credentials{Identifier: cfg.Source.Identifier, Key: cfg.Source.Key},
	)
	exec := executor.New(executor.DefaultOptions(), log.Named("executor"))
	reg := registry.New(store, log.Named("registry"))

	opts := cleanup.DefaultOptions()
	opts.Mode = cleanup.OperatingMode(cfg.OperatingMode)
	orch := cleanup.New(reg, src, exec, store, log.Named("cleanup"), opts)

	var (
		b      *bot.Bot
		sender scheduler.Sender
	)
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, reg, orch, store, cfg, log.Named("bot"))
		if err != nil {
			log.Fatal("create bot", zap.Error(err))
		}
		sender = b
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, admin bot disabled")
	}

	sched := scheduler.New(reg, orch, sender, cfg.NotifyChatID, log.Named("scheduler"))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(reg, orch, store, src, exec, cfg.WebhookSecret, log.Named("api")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting sweepbot",
		zap.String("mode", cfg.OperatingMode),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if b != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server exited", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	wg.Wait()

	log.Info("sweepbot stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	if cfg.Storage.Driver == config.DriverRedis {
		return storage.NewRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return storage.NewSQLite(cfg.DatabasePath, log.Named("storage"))
}

func newLogger(level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if !json {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

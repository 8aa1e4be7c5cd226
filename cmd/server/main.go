package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p2pdesk/sellbot/internal/alert"
	"github.com/p2pdesk/sellbot/internal/config"
	"github.com/p2pdesk/sellbot/internal/handler"
	"github.com/p2pdesk/sellbot/internal/history"
	"github.com/p2pdesk/sellbot/internal/market"
	"github.com/p2pdesk/sellbot/internal/middleware"
	"github.com/p2pdesk/sellbot/internal/position"
	"github.com/p2pdesk/sellbot/internal/refresh"
	"github.com/p2pdesk/sellbot/internal/telegram"
	"github.com/p2pdesk/sellbot/internal/threshold"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.TelegramToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.TelegramWebhookURL == "" {
		logger.Error("TELEGRAM_WEBHOOK_URL is required")
		os.Exit(1)
	}
	if cfg.MarketAPIKey == "" {
		logger.Error("MARKET_API_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Position store (retry up to 30s for Redis to come up)
	var store *position.Store
	var err error
	for i := 0; i < 6; i++ {
		store, err = position.New(cfg.RedisURL, cfg.RedisPassword, cfg.ScanBatchSize)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("redis connected", "assets", cfg.SupportedAssets)

	// Alert history is optional; without DATABASE_URL alerts still fire,
	// they just leave no audit trail.
	var audit *history.Store
	if cfg.DatabaseURL != "" {
		audit, err = history.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer audit.Close()
		if err := audit.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("alert history connected and migrated")
	} else {
		logger.Warn("DATABASE_URL not set, alert history disabled")
	}

	// Telegram bot (registers the webhook on startup)
	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:      cfg.TelegramToken,
		WebhookURL: cfg.TelegramWebhookURL,
		Assets:     cfg.SupportedAssets,
		Fiat:       cfg.Fiat,
	}, store, logger)
	if err != nil {
		logger.Error("failed to create telegram bot", "error", err)
		os.Exit(1)
	}

	engine := threshold.NewEngine(cfg.PositiveThreshold, cfg.NegativeThreshold, cfg.Fiat)
	prices := market.NewClient(cfg.MarketAPIURL, cfg.MarketAPIKey, cfg.Fiat)

	var recorder alert.Recorder
	if audit != nil {
		recorder = audit
	}
	dispatcher := alert.NewDispatcher(store, bot.SendMessage, recorder, logger)
	runner := refresh.NewRunner(prices, store, engine, dispatcher, logger, cfg.SupportedAssets)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(store))

	r.Get("/checkprice", handler.CheckPrice(runner, logger))
	r.Post("/checkprice", handler.CheckPrice(runner, logger))
	r.Post(bot.WebhookPath(), bot.WebhookHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handler.Status(store, cfg.SupportedAssets))
		if audit != nil {
			r.Get("/alerts", handler.ListAlerts(audit))
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

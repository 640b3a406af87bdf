// Command platform runs the C9 HTTP surface (discovery, billing,
// analytics, disputes, deposits, Stripe reconciliation) and the C7
// webhook delivery worker as one deployable.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/x402gw/core/internal/envconfig"
	"github.com/x402gw/core/internal/httpapi"
	"github.com/x402gw/core/internal/store"
	"github.com/x402gw/core/internal/webhook"
)

type config struct {
	Port                  int
	StoreSecret           string
	AllowedOrigins        []string
	StripeWebhookSecret   string
	WebhookWorkerInterval time.Duration
}

func loadConfig() (config, error) {
	envconfig.LoadDotenv()

	storeSecret := envconfig.String("STORE_SECRET", "")
	if storeSecret == "" {
		return config{}, fmt.Errorf("STORE_SECRET is required")
	}
	stripeSecret := envconfig.String("STRIPE_WEBHOOK_SECRET", "")
	if stripeSecret == "" {
		return config{}, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	return config{
		Port:                  envconfig.Int("PORT", 8081),
		StoreSecret:           storeSecret,
		AllowedOrigins:        envconfig.StringList("ALLOWED_ORIGINS"),
		StripeWebhookSecret:   stripeSecret,
		WebhookWorkerInterval: envconfig.Duration("WEBHOOK_WORKER_INTERVAL", 15*time.Second),
	}, nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	docs := store.New(cfg.StoreSecret)

	router := httpapi.New(httpapi.Config{
		Store:               docs,
		StoreSecret:         cfg.StoreSecret,
		AllowedOrigins:      cfg.AllowedOrigins,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})

	dispatcher := webhook.New(webhook.Config{Store: docs, StoreSecret: cfg.StoreSecret})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go webhook.RunWorker(ctx, dispatcher, cfg.WebhookWorkerInterval)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("platform surface starting", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: router.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if os.Getenv("LOG_LEVEL") == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

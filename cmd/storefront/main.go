// Package main запускает HTTP-сервер платёжного ядра витрины.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-payments/internal/config"
	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/handler"
	"github.com/mmeshcher/storefront-payments/internal/ledger"
	"github.com/mmeshcher/storefront-payments/internal/middleware"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/service"
	"github.com/mmeshcher/storefront-payments/internal/shipping"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if cfg.AuthSecret == "" {
		sugar.Fatalw("configuration error", "error", "AUTH_SECRET is required")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	if cfg.StripeSecretKey == "" {
		sugar.Warn("STRIPE_SECRET_KEY is not set, checkout will fail")
	}
	if cfg.ShippoAPIKey == "" {
		sugar.Warn("SHIPPO_API_KEY is not set, shipping rates are unavailable")
	}

	opts := []service.Option{service.WithDefaultCurrency(cfg.DefaultCurrency)}

	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			sugar.Fatalw("event publisher initialization error", "error", err.Error())
		}
		defer publisher.Close()
		opts = append(opts, service.WithPublisher(publisher))
	}

	if cfg.ClickHouseAddr != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		feeLedger, err := ledger.NewClickHouseLedger(initCtx, ledger.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		cancel()
		if err != nil {
			sugar.Fatalw("fee ledger initialization error", "error", err.Error())
		}
		defer feeLedger.Close()
		opts = append(opts, service.WithFeeRecorder(feeLedger))
	}

	svc := service.NewService(
		repo,
		payment.NewStripeProvider(cfg.StripeSecretKey),
		shipping.NewClient(cfg.ShippoBaseURL, cfg.ShippoAPIKey),
		cfg.FeePolicy(),
		logger,
		opts...,
	)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, payment.NewWebhookVerifier(cfg.StripeWebhookSecret), logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting storefront payments server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка сервера)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/api"
	"github.com/akylbek/payment-system/pix-charges/internal/config"
	"github.com/akylbek/payment-system/pix-charges/internal/events"
	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/middleware"
	"github.com/akylbek/payment-system/pix-charges/internal/qrcode"
	"github.com/akylbek/payment-system/pix-charges/internal/service"
	"github.com/akylbek/payment-system/pix-charges/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}

	if err := telemetry.InitTelemetry("pix-charges", cfg.Tracing.OTLPEndpoint); err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.Background())
	logger := telemetry.Logger

	logger.Info("Starting PIX charges service")

	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	gw, err := newGatewayClient(cfg.Gateway, logger)
	if err != nil {
		return fmt.Errorf("build gateway client: %w", err)
	}

	renderer, err := qrcode.NewFileRenderer(cfg.QRCode.Dir)
	if err != nil {
		return err
	}

	var publisher interfaces.StatePublisher = events.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		writer := events.NewStateWriter(cfg.Kafka.Brokers)
		defer writer.Close()
		publisher = events.NewKafkaPublisher(writer, cfg.Kafka.PublishTimeout)
	}

	var notifier interfaces.PayerNotifier = events.NewLogNotifier(logger)
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
		notifier = events.NewNATSNotifier(nc)
	}

	var idempotency gin.HandlerFunc
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		idempotency = middleware.Idempotency(redisClient, cfg.Redis.IdempotencyTTL, logger)
	}

	charges := service.NewChargeService(store, gw, renderer, publisher, service.ChargeConfig{
		PayeeKey:   cfg.Charge.PayeeKey,
		Expiration: cfg.Charge.Expiration,
	}, logger)
	reconciler := service.NewReconciler(store, gw, publisher, notifier, service.ReconcilerConfig{
		ConfirmWithGateway: cfg.Webhook.Confirm,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	r := api.NewRouter(api.Deps{
		Charges:     charges,
		Reconciler:  reconciler,
		Idempotency: idempotency,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("PIX charges service starting",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Database.Driver),
			zap.Bool("webhook_confirm", cfg.Webhook.Confirm),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("start server: %w", err)
	case <-sigCtx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

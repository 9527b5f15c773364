package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digital-goods-marketplace/internal/client"
	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/handler"
	"digital-goods-marketplace/internal/middleware"
	"digital-goods-marketplace/internal/observability"
	"digital-goods-marketplace/internal/provider"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/secret"
	"digital-goods-marketplace/internal/server"
	"digital-goods-marketplace/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const provisioningRoutingKey = "provisioning.callback"

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.SetDefault(observability.NewLogger(os.Stdout, cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg.Telemetry, cfg.Environment.Name)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := client.InitDB(cfg.Database)
	if err != nil {
		return err
	}

	codec, err := secret.NewCodec(cfg.Inventory.EncryptionKey)
	if err != nil {
		return fmt.Errorf("inventory encryption key: %w", err)
	}

	// -------- repositories --------
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	productRepo := repository.NewProductRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	sellerRepo := repository.NewSellerRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	userRepo := repository.NewUserRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	// -------- broker --------
	var publisher service.Publisher
	var consumeProvisioning func(handle func(context.Context, []byte) error) error
	if cfg.AMQP.URL != "" {
		conn, ch, err := client.SetupAMQP(cfg.AMQP.URL, cfg.AMQP.NotificationsTopic)
		if err != nil {
			return err
		}
		defer conn.Close()
		publisher = client.NewAMQPPublisher(ch, cfg.AMQP.NotificationsTopic)

		consumerCh, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open consumer channel: %w", err)
		}
		consumeProvisioning = func(handle func(context.Context, []byte) error) error {
			return client.Consume(ctx, consumerCh, cfg.AMQP.NotificationsTopic, cfg.AMQP.ProvisioningQueue, provisioningRoutingKey, handle)
		}
	}

	// -------- redis --------
	var sharedLimiter middleware.SharedLimiter
	var locker handler.Locker
	if cfg.Redis.Addr != "" {
		rdb := client.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, falling back to in-memory rate limiting", "error", err)
		} else {
			sharedLimiter = client.NewRedisLimiter(rdb)
			locker = client.NewRedisLocker(rdb)
		}
	}

	// -------- payment rails --------
	registry := provider.NewRegistry()
	registry.Register(provider.NewCard(cfg.Card.WebhookSecret))
	registry.Register(provider.NewQR(cfg.QR.WebhookSecret, client.NewQRClient(&cfg.QR)))
	registry.Register(provider.NewCryptoInvoice(cfg.Crypto.PaymentKey))
	registry.Register(provider.NewPeer(cfg.Peer.SecretKey))
	registry.Register(provider.NewDirectDeposit(client.NewDepositClient(&cfg.Deposit)))

	var provisioner client.ProvisioningClient
	if cfg.Provisioning.BaseApiURL != "" {
		provisioner = client.NewProvisioningClient(&cfg.Provisioning)
	}

	// -------- services --------
	defaults, err := service.DefaultSettings(cfg.Risk)
	if err != nil {
		return err
	}
	settingsService := service.NewSettingsService(settingsRepo, defaults)
	if err := settingsService.Reload(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	notificationService := service.NewNotificationService(notificationRepo, publisher)
	walletService := service.NewWalletService(db, walletRepo, cfg.Currency)
	riskService := service.NewRiskService(userRepo, orderRepo, settingsService)
	fulfillmentService := service.NewFulfillmentService(
		db,
		orderRepo,
		paymentRepo,
		productRepo,
		inventoryRepo,
		ledgerRepo,
		sellerRepo,
		codec,
		provisioner,
		notificationService,
	)
	checkoutService := service.NewCheckoutService(
		db,
		productRepo,
		orderRepo,
		paymentRepo,
		riskService,
		settingsService,
		walletService,
		fulfillmentService,
		notificationService,
		cfg.Deposit,
	)
	paymentService := service.NewPaymentService(db, registry, paymentRepo, orderRepo, webhookEventRepo, fulfillmentService)
	schedulerService := service.NewSchedulerService(db, orderRepo, paymentRepo, fulfillmentService)
	refundService := service.NewRefundService(db, orderRepo, refundRepo, inventoryRepo, walletService, notificationService)
	withdrawalService := service.NewWithdrawalService(db, sellerRepo, withdrawalRepo, notificationService)
	inventoryService := service.NewInventoryService(productRepo, orderRepo, inventoryRepo, codec)

	webhookHandler := handler.NewWebhookHandler(paymentService, fulfillmentService, registry, cfg.Provisioning.CallbackSecret)
	if consumeProvisioning != nil {
		if err := consumeProvisioning(webhookHandler.HandleProvisioningMessage); err != nil {
			return err
		}
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, sharedLimiter)
	go limiter.Cleanup(ctx)

	// Init HTTP server
	srv := server.NewServer(server.Handlers{
		Order:   handler.NewOrderHandler(checkoutService, paymentService, inventoryService, refundService),
		Webhook: webhookHandler,
		Admin:   handler.NewAdminHandler(fulfillmentService, refundService, withdrawalService, inventoryService, settingsService),
		Account: handler.NewAccountHandler(walletService, notificationService, withdrawalService),
		Cron:    handler.NewCronHandler(schedulerService, locker),
	}, server.Options{
		JWTSecret:  cfg.Auth.JWTSecret,
		CronSecret: cfg.Auth.CronSecret,
		Limiter:    limiter,
	})

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	slog.Info("starting HTTP server", "addr", serverAddr, "environment", cfg.Environment.Name)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("signal received, starting graceful shutdown")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

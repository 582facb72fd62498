package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/restockhq/restock-backend/api/routes"
	"github.com/restockhq/restock-backend/internal/addresses"
	"github.com/restockhq/restock-backend/internal/agentbrowser"
	"github.com/restockhq/restock-backend/internal/agentruns"
	"github.com/restockhq/restock-backend/internal/billing"
	"github.com/restockhq/restock-backend/internal/checkout"
	"github.com/restockhq/restock-backend/internal/intentextract"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/renewals"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	stripewebhook "github.com/restockhq/restock-backend/internal/webhooks/stripe"
	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/logger"
	"github.com/restockhq/restock-backend/pkg/metrics"
	"github.com/restockhq/restock-backend/pkg/migrate"
	"github.com/restockhq/restock-backend/pkg/redis"
	"github.com/restockhq/restock-backend/pkg/stripe"
)

const webhookIdempotencyTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	intentsRepo := intents.NewRepository(dbClient.DB())
	subscriptionsRepo := subscriptions.NewRepository(dbClient.DB())
	runsRepo := agentruns.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	billingRepo := billing.NewRepository(dbClient.DB())
	addressesRepo := addresses.NewRepository(dbClient.DB())

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionsRepo,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	intentsService, err := intents.NewService(intents.ServiceParams{
		Repo:              intentsRepo,
		Derived:           subscriptionsService,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create intents service", err)
		os.Exit(1)
	}

	runsService, err := agentruns.NewService(agentruns.ServiceParams{
		Repo:              runsRepo,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create agent runs service", err)
		os.Exit(1)
	}

	addressesService, err := addresses.NewService(addresses.ServiceParams{
		Repo:              addressesRepo,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create addresses service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:              billingRepo,
		Stripe:            billing.NewStripeClient(stripeClient),
		TransactionRunner: dbClient,
		StripeConfig:      cfg.Stripe,
		BillingConfig:     cfg.Billing,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	browserClient, err := agentbrowser.NewClient(cfg.AgentBrowser)
	if err != nil {
		logg.Error(context.Background(), "failed to create agent browser client", err)
		os.Exit(1)
	}
	sessions, err := agentbrowser.NewSessionManager(agentbrowser.SessionManagerParams{
		Capability:  browserClient,
		Logger:      logg,
		SessionTTL:  cfg.AgentBrowser.SessionTTL,
		MaxSessions: cfg.AgentBrowser.MaxSessions,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Runs:       runsService,
		Sessions:   sessions,
		Capability: browserClient,
		Fulfill: checkout.FulfillmentParams{
			Subscriptions:     subscriptionsService,
			Orders:            ordersRepo,
			Billing:           billingService,
			TransactionRunner: dbClient,
		},
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	renewalsService, err := renewals.NewService(renewals.ServiceParams{
		Subscriptions:     subscriptionsRepo,
		SubscriptionsSvc:  subscriptionsService,
		Intents:           intentsRepo,
		Addresses:         addressesService,
		Checkout:          checkoutService,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           metrics.NewSweepMetrics(prometheus.DefaultRegisterer),
		Config:            cfg.Renewals,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewals service", err)
		os.Exit(1)
	}

	extractor, err := intentextract.NewClient(cfg.Extractor)
	if err != nil {
		logg.Error(context.Background(), "failed to create intent extractor", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Billing:           billingService,
		BillingRepo:       billingRepo,
		Intents:           intentsService,
		Subscriptions:     subscriptionsRepo,
		SubscriptionsSvc:  subscriptionsService,
		Orders:            ordersRepo,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			intentsService,
			subscriptionsService,
			addressesService,
			runsService,
			checkoutService,
			ordersRepo,
			billingService,
			billingRepo,
			renewalsService,
			extractor,
			stripeClient,
			webhookService,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

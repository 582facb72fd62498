package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/restockhq/restock-backend/internal/addresses"
	"github.com/restockhq/restock-backend/internal/agentbrowser"
	"github.com/restockhq/restock-backend/internal/agentruns"
	"github.com/restockhq/restock-backend/internal/billing"
	"github.com/restockhq/restock-backend/internal/checkout"
	"github.com/restockhq/restock-backend/internal/cron"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/renewals"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/logger"
	"github.com/restockhq/restock-backend/pkg/metrics"
	"github.com/restockhq/restock-backend/pkg/migrate"
	"github.com/restockhq/restock-backend/pkg/redis"
	"github.com/restockhq/restock-backend/pkg/stripe"
)

const lockKeyFormat = "restock:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	sweepJob, err := cron.NewRenewalSweepJob(renewalsService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal sweep job", err)
		os.Exit(1)
	}
	reaperJob, err := cron.NewSessionReaperJob(sessions, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create session reaper job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(sweepJob, reaperJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Renewals.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/restockhq/restock-backend/api/controllers"
	webhookcontrollers "github.com/restockhq/restock-backend/api/controllers/webhooks"
	"github.com/restockhq/restock-backend/api/middleware"
	"github.com/restockhq/restock-backend/internal/addresses"
	"github.com/restockhq/restock-backend/internal/agentruns"
	"github.com/restockhq/restock-backend/internal/billing"
	checkoutsvc "github.com/restockhq/restock-backend/internal/checkout"
	"github.com/restockhq/restock-backend/internal/intentextract"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/renewals"
	subscriptionsvc "github.com/restockhq/restock-backend/internal/subscriptions"
	stripewebhook "github.com/restockhq/restock-backend/internal/webhooks/stripe"
	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/logger"
	"github.com/restockhq/restock-backend/pkg/redis"
	"github.com/restockhq/restock-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	intentsService intents.Service,
	subscriptionsService subscriptionsvc.Service,
	addressesService addresses.Service,
	runsService agentruns.Service,
	checkoutService checkoutsvc.Service,
	ordersRepo orders.Repository,
	billingService billing.Service,
	billingRepo billing.Repository,
	renewalsService renewals.Service,
	extractor intentextract.Extractor,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(nil),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
	})

	// The sweep endpoints are gated by the shared secret, not by user auth.
	r.Route("/api/v1/renewals", func(r chi.Router) {
		r.Post("/sweep", controllers.RenewalSweep(renewalsService, cfg.Renewals, logg))
		r.Get("/due", controllers.RenewalDue(renewalsService, cfg.Renewals, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/intents", func(r chi.Router) {
			r.Post("/", controllers.IntentCreate(intentsService, logg))
			r.Get("/", controllers.IntentList(intentsService, logg))
			r.Post("/extract", controllers.IntentExtract(extractor, logg))
			r.Get("/{intentId}", controllers.IntentGet(intentsService, logg))
			r.Patch("/{intentId}", controllers.IntentUpdate(intentsService, logg))
			r.Post("/{intentId}/pause", controllers.IntentPause(intentsService, logg))
			r.Post("/{intentId}/resume", controllers.IntentResume(intentsService, logg))
			r.Post("/{intentId}/cancel", controllers.IntentCancel(intentsService, logg))
			r.Post("/{intentId}/checkout", controllers.IntentCheckout(intentsService, addressesService, checkoutService, logg))
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionList(subscriptionsService, logg))
			r.Get("/{subscriptionId}", controllers.SubscriptionGet(subscriptionsService, logg))
			r.Post("/{subscriptionId}/pause", controllers.SubscriptionPause(subscriptionsService, logg))
			r.Post("/{subscriptionId}/resume", controllers.SubscriptionResume(subscriptionsService, logg))
			r.Post("/{subscriptionId}/cancel", controllers.SubscriptionCancel(subscriptionsService, logg))
			r.Get("/{subscriptionId}/runs", controllers.RunListBySubscription(runsService, subscriptionsService, logg))
			r.Get("/{subscriptionId}/orders", controllers.OrderListBySubscription(ordersRepo, subscriptionsService, logg))
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Post("/", controllers.AddressCreate(addressesService, logg))
			r.Get("/", controllers.AddressList(addressesService, logg))
			r.Post("/{addressId}/default", controllers.AddressSetDefault(addressesService, logg))
			r.Delete("/{addressId}", controllers.AddressDelete(addressesService, logg))
		})

		r.Get("/runs/{runId}", controllers.RunGet(runsService, intentsService, subscriptionsService, logg))

		r.Route("/billing", func(r chi.Router) {
			r.Post("/vehicle", controllers.BillingVehicleCreate(billingService, logg))
			r.Delete("/vehicle", controllers.BillingVehicleCancel(billingService, logg))
			r.Get("/payments", controllers.PaymentList(billingRepo, logg))
		})
	})

	return r
}

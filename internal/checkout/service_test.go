package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/internal/agentbrowser"
	"github.com/restockhq/restock-backend/internal/agentruns"
	"github.com/restockhq/restock-backend/internal/billing"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

func setupCheckoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS agent_runs (
  id TEXT PRIMARY KEY,
  intent_id TEXT,
  subscription_id TEXT,
  status TEXT NOT NULL DEFAULT 'plan',
  input TEXT,
  output TEXT,
  error_text TEXT,
  session_handle TEXT,
  created_at DATETIME,
  ended_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  product_ref TEXT NOT NULL,
  intent_id TEXT,
  renewal_frequency_days INTEGER NOT NULL,
  last_price_cents INTEGER,
  address_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  next_renewal_at DATETIME NOT NULL,
  last_purchased_at DATETIME,
  paused_at DATETIME,
  pause_reason TEXT,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  agent_run_id TEXT NOT NULL,
  merchant TEXT,
  external_order_ref TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  receipt TEXT,
  status TEXT NOT NULL DEFAULT 'processing',
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, external_order_ref)
);`,
		`CREATE TABLE IF NOT EXISTS billing_accounts (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL UNIQUE,
  stripe_customer_id TEXT NOT NULL,
  stripe_subscription_id TEXT,
  status TEXT NOT NULL DEFAULT 'incomplete',
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  purchase_event_id TEXT UNIQUE,
  stripe_invoice_id TEXT,
  stripe_invoice_item_id TEXT,
  stripe_payment_intent_id TEXT,
  product_cost_cents INTEGER NOT NULL,
  service_fee_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'usd',
  description TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubCapability struct {
	result    agentbrowser.CheckoutResult
	err       error
	requests  []agentbrowser.CheckoutRequest
	closed    []string
	sessionID int
}

func (s *stubCapability) OpenSession(_ context.Context) (agentbrowser.Session, error) {
	s.sessionID++
	return agentbrowser.Session{Handle: "sess-1"}, nil
}

func (s *stubCapability) ExecuteCheckout(_ context.Context, _ string, req agentbrowser.CheckoutRequest) (agentbrowser.CheckoutResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return agentbrowser.CheckoutResult{}, s.err
	}
	return s.result, nil
}

func (s *stubCapability) CloseSession(_ context.Context, handle string) error {
	s.closed = append(s.closed, handle)
	return nil
}

type stubStripeClient struct{}

func (s *stubStripeClient) CreateCustomer(_ context.Context, _ *stripe.CustomerParams) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_1"}, nil
}

func (s *stubStripeClient) CreateSubscription(_ context.Context, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: "sub_1", Status: stripe.SubscriptionStatusActive}, nil
}

func (s *stubStripeClient) CancelSubscription(_ context.Context, id string, _ *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

func (s *stubStripeClient) CreateInvoiceItem(_ context.Context, _ *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	return &stripe.InvoiceItem{ID: "ii_1"}, nil
}

func (s *stubStripeClient) CreateInvoice(_ context.Context, _ *stripe.InvoiceParams) (*stripe.Invoice, error) {
	return &stripe.Invoice{ID: "in_1"}, nil
}

func (s *stubStripeClient) FinalizeInvoice(_ context.Context, id string, _ *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	return &stripe.Invoice{ID: id}, nil
}

type testEnv struct {
	svc        Service
	capability *stubCapability
	runs       agentruns.Service
	subs       subscriptions.Service
	billing    billing.Service
	db         *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := setupCheckoutTestDB(t)
	tx := testTxRunner{db: conn}
	logg := logger.New(logger.Options{Output: io.Discard})

	runs, err := agentruns.NewService(agentruns.ServiceParams{
		Repo:              agentruns.NewRepository(conn),
		TransactionRunner: tx,
	})
	require.NoError(t, err)

	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(conn),
		TransactionRunner: tx,
	})
	require.NoError(t, err)

	billingSvc, err := billing.NewService(billing.ServiceParams{
		Repo:              billing.NewRepository(conn),
		Stripe:            &stubStripeClient{},
		TransactionRunner: tx,
		StripeConfig:      config.StripeConfig{PriceID: "price_1"},
		BillingConfig:     config.BillingConfig{Currency: "usd"},
	})
	require.NoError(t, err)

	capability := &stubCapability{}
	sessions, err := agentbrowser.NewSessionManager(agentbrowser.SessionManagerParams{
		Capability:  capability,
		Logger:      logg,
		MaxSessions: 2,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Runs:       runs,
		Sessions:   sessions,
		Capability: capability,
		Logger:     logg,
		Fulfill: FulfillmentParams{
			Subscriptions:     subs,
			Orders:            orders.NewRepository(conn),
			Billing:           billingSvc,
			TransactionRunner: tx,
		},
	})
	require.NoError(t, err)

	return &testEnv{
		svc:        svc,
		capability: capability,
		runs:       runs,
		subs:       subs,
		billing:    billingSvc,
		db:         conn,
	}
}

func testAddress() *agentbrowser.Address {
	return &agentbrowser.Address{
		Line1:      "1 Main St",
		City:       "Springfield",
		PostalCode: "62701",
		Country:    "US",
	}
}

func TestExecuteCompletedCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.capability.result = agentbrowser.CheckoutResult{
		Completed:        true,
		ExternalOrderRef: "ORD-1",
		Merchant:         "example.com",
		PriceCents:       2000,
	}

	runID := uuid.New()
	intentID := uuid.New()
	outcome, err := env.svc.Execute(context.Background(), ExecuteInput{
		RunID:      runID,
		Strategy:   enums.CheckoutStrategyManualOneOff,
		IntentID:   &intentID,
		ProductRef: "https://example.com/p/soap",
		Address:    testAddress(),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.False(t, outcome.RequiresManualIntervention)
	assert.Equal(t, "ORD-1", outcome.OrderReference)
	assert.Equal(t, int64(2000), outcome.PriceObservedCents)

	run, err := env.runs.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, enums.AgentRunStatusDone, run.Status)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, []string{"sess-1"}, env.capability.closed)

	require.Len(t, env.capability.requests, 1)
	assert.Equal(t, "manual_one_off", env.capability.requests[0].Strategy)
}

func TestExecuteHaltsForManualIntervention(t *testing.T) {
	env := newTestEnv(t)
	env.capability.result = agentbrowser.CheckoutResult{
		NeedsHuman: true,
		Merchant:   "example.com",
		PriceCents: 1500,
	}

	runID := uuid.New()
	intentID := uuid.New()
	outcome, err := env.svc.Execute(context.Background(), ExecuteInput{
		RunID:      runID,
		Strategy:   enums.CheckoutStrategyNativeRecurring,
		IntentID:   &intentID,
		ProductRef: "ref",
		Address:    testAddress(),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.RequiresManualIntervention)
	require.NotNil(t, outcome.SessionHandle)

	// The run holds the live session handle and is not terminal; the
	// session was not closed.
	run, err := env.runs.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, enums.AgentRunStatusCheckout, run.Status)
	assert.Nil(t, run.EndedAt)
	require.NotNil(t, run.SessionHandle)
	assert.Empty(t, env.capability.closed)
}

func TestExecuteFailureMarksRunFailed(t *testing.T) {
	env := newTestEnv(t)
	env.capability.err = errors.New("merchant page timed out")

	runID := uuid.New()
	subID := uuid.New()
	outcome, err := env.svc.Execute(context.Background(), ExecuteInput{
		RunID:          runID,
		Strategy:       enums.CheckoutStrategyManualOneOff,
		SubscriptionID: &subID,
		ProductRef:     "ref",
		Address:        testAddress(),
	})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorText, "merchant page timed out")

	run, err := env.runs.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, enums.AgentRunStatusFailed, run.Status)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, []string{"sess-1"}, env.capability.closed)
}

func TestExecuteMissingAddressFailsFastWithoutRun(t *testing.T) {
	env := newTestEnv(t)

	runID := uuid.New()
	intentID := uuid.New()
	_, err := env.svc.Execute(context.Background(), ExecuteInput{
		RunID:      runID,
		Strategy:   enums.CheckoutStrategyManualOneOff,
		IntentID:   &intentID,
		ProductRef: "ref",
	})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())

	// No run row was allocated and the capability was never touched.
	_, err = env.runs.Get(context.Background(), runID)
	require.Error(t, err)
	assert.Empty(t, env.capability.requests)
}

func TestCompleteFirstPurchase(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	_, err := env.billing.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)

	intent := &models.SubscriptionIntent{
		ID:          uuid.New(),
		OwnerID:     owner,
		Title:       "Coffee",
		ProductRef:  "https://example.com/p/coffee",
		CadenceDays: 14,
	}
	outcome := &Outcome{
		RunID:              uuid.New(),
		Success:            true,
		OrderReference:     "ORD-9",
		Merchant:           "example.com",
		PriceObservedCents: 2000,
	}

	result, err := env.svc.CompleteFirstPurchase(context.Background(), FirstPurchaseInput{
		Intent:  intent,
		Outcome: outcome,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, owner, result.Subscription.OwnerID)
	assert.Equal(t, 14, result.Subscription.RenewalFrequencyDays)
	require.NotNil(t, result.Order)
	assert.Equal(t, "ORD-9", result.Order.ExternalOrderRef)
	require.NotNil(t, result.Payment)
	assert.Equal(t, int64(4286), result.Payment.ProductCostCents)
}

func TestCompleteFirstPurchaseWithoutBillingAccount(t *testing.T) {
	env := newTestEnv(t)

	intent := &models.SubscriptionIntent{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Title:       "Coffee",
		ProductRef:  "ref",
		CadenceDays: 30,
	}
	outcome := &Outcome{
		RunID:              uuid.New(),
		Success:            true,
		OrderReference:     "ORD-10",
		PriceObservedCents: 1000,
	}

	// The purchase is still recorded; the charge is deferred to webhook
	// reconciliation.
	result, err := env.svc.CompleteFirstPurchase(context.Background(), FirstPurchaseInput{
		Intent:  intent,
		Outcome: outcome,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)
	require.NotNil(t, result.Order)
	assert.Nil(t, result.Payment)
}

func TestRecordRenewalPurchaseIdempotent(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	_, err := env.billing.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)

	var sub *models.Subscription
	err = env.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		sub, txErr = env.subs.CreateFromPurchase(context.Background(), tx, subscriptions.CreateFromPurchaseInput{
			OwnerID:              owner,
			ProductRef:           "ref",
			RenewalFrequencyDays: 30,
			PriceCents:           1000,
			PurchasedAt:          time.Now().UTC(),
		})
		return txErr
	})
	require.NoError(t, err)

	outcome := &Outcome{
		RunID:              uuid.New(),
		Success:            true,
		OrderReference:     "ORD-11",
		PriceObservedCents: 1100,
	}
	first, err := env.svc.RecordRenewalPurchase(context.Background(), RenewalPurchaseInput{
		Subscription: sub,
		Outcome:      outcome,
	})
	require.NoError(t, err)
	require.NotNil(t, first.Order)
	require.NotNil(t, first.Payment)

	// Replaying the same order reference does not double-count.
	second, err := env.svc.RecordRenewalPurchase(context.Background(), RenewalPurchaseInput{
		Subscription: sub,
		Outcome:      outcome,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Nil(t, second.Payment)

	var count int64
	require.NoError(t, env.db.Model(&models.Order{}).Where("subscription_id = ?", sub.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

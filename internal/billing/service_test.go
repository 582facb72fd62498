package billing

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/enums"
)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	accounts := `
CREATE TABLE IF NOT EXISTS billing_accounts (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL UNIQUE,
  stripe_customer_id TEXT NOT NULL,
  stripe_subscription_id TEXT,
  status TEXT NOT NULL DEFAULT 'incomplete',
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	payments := `
CREATE TABLE IF NOT EXISTS payments (
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
);`
	require.NoError(t, db.Exec(accounts).Error)
	require.NoError(t, db.Exec(payments).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubStripeClient struct {
	customers     int
	subscriptions int
	invoiceItems  []*stripe.InvoiceItemParams
	invoices      int
	finalized     []string
	canceled      []string
}

func (s *stubStripeClient) CreateCustomer(_ context.Context, _ *stripe.CustomerParams) (*stripe.Customer, error) {
	s.customers++
	return &stripe.Customer{ID: fmt.Sprintf("cus_%d", s.customers)}, nil
}

func (s *stubStripeClient) CreateSubscription(_ context.Context, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.subscriptions++
	return &stripe.Subscription{
		ID:     fmt.Sprintf("sub_%d", s.subscriptions),
		Status: stripe.SubscriptionStatusActive,
	}, nil
}

func (s *stubStripeClient) CancelSubscription(_ context.Context, id string, _ *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	s.canceled = append(s.canceled, id)
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

func (s *stubStripeClient) CreateInvoiceItem(_ context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	s.invoiceItems = append(s.invoiceItems, params)
	return &stripe.InvoiceItem{ID: fmt.Sprintf("ii_%d", len(s.invoiceItems))}, nil
}

func (s *stubStripeClient) CreateInvoice(_ context.Context, _ *stripe.InvoiceParams) (*stripe.Invoice, error) {
	s.invoices++
	return &stripe.Invoice{ID: fmt.Sprintf("in_%d", s.invoices)}, nil
}

func (s *stubStripeClient) FinalizeInvoice(_ context.Context, id string, _ *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	s.finalized = append(s.finalized, id)
	return &stripe.Invoice{ID: id}, nil
}

func newTestBillingService(t *testing.T) (Service, *stubStripeClient, Repository) {
	t.Helper()
	db := setupBillingTestDB(t)
	stub := &stubStripeClient{}
	repo := NewRepository(db)
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Stripe:            stub,
		TransactionRunner: testTxRunner{db: db},
		StripeConfig:      config.StripeConfig{PriceID: "price_123"},
		BillingConfig:     config.BillingConfig{Currency: "usd", ServiceFeeBps: 500},
	})
	require.NoError(t, err)
	return svc, stub, repo
}

func TestEnsureCustomerIsIdempotent(t *testing.T) {
	svc, stub, _ := newTestBillingService(t)
	owner := uuid.New()

	first, err := svc.EnsureCustomer(context.Background(), owner, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, enums.BillingAccountStatusIncomplete, first.Status)

	second, err := svc.EnsureCustomer(context.Background(), owner, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, stub.customers)
}

func TestCreateBillingVehicle(t *testing.T) {
	svc, stub, _ := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)

	account, err := svc.CreateBillingVehicle(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, account.StripeSubscriptionID)
	assert.Equal(t, enums.BillingAccountStatusActive, account.Status)

	again, err := svc.CreateBillingVehicle(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, *account.StripeSubscriptionID, *again.StripeSubscriptionID)
	assert.Equal(t, 1, stub.subscriptions)
}

func TestAppendChargeRidesVehicleInvoice(t *testing.T) {
	svc, stub, _ := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)
	_, err = svc.CreateBillingVehicle(context.Background(), owner)
	require.NoError(t, err)

	event := uuid.New()
	payment, err := svc.AppendCharge(context.Background(), AppendChargeInput{
		OwnerID:          owner,
		PurchaseEventID:  event,
		ProductCostCents: 2000,
		CadenceDays:      14,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4286), payment.ProductCostCents)
	assert.Equal(t, int64(214), payment.ServiceFeeCents)
	require.NotNil(t, payment.Description)
	assert.Equal(t, "~2.14x per month", *payment.Description)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.NotNil(t, payment.StripeInvoiceItemID)
	assert.Nil(t, payment.StripeInvoiceID)

	require.Len(t, stub.invoiceItems, 1)
	item := stub.invoiceItems[0]
	require.NotNil(t, item.Subscription)
	assert.Equal(t, event.String(), item.Metadata["purchase_event_id"])
	require.NotNil(t, item.Amount)
	assert.Equal(t, int64(4286+214), *item.Amount)
	assert.Equal(t, 0, stub.invoices)
}

func TestAppendChargeOneOffWithoutVehicle(t *testing.T) {
	svc, stub, _ := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)

	payment, err := svc.AppendCharge(context.Background(), AppendChargeInput{
		OwnerID:          owner,
		PurchaseEventID:  uuid.New(),
		ProductCostCents: 2000,
		CadenceDays:      30,
	})
	require.NoError(t, err)
	require.NotNil(t, payment.StripeInvoiceID)
	assert.Equal(t, 1, stub.invoices)
	assert.Len(t, stub.finalized, 1)
	require.Len(t, stub.invoiceItems, 1)
	assert.Nil(t, stub.invoiceItems[0].Subscription)
}

func TestAppendChargeIdempotentPerPurchaseEvent(t *testing.T) {
	svc, stub, _ := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)
	_, err = svc.CreateBillingVehicle(context.Background(), owner)
	require.NoError(t, err)

	event := uuid.New()
	input := AppendChargeInput{
		OwnerID:          owner,
		PurchaseEventID:  event,
		ProductCostCents: 1500,
		CadenceDays:      30,
	}
	first, err := svc.AppendCharge(context.Background(), input)
	require.NoError(t, err)

	second, err := svc.AppendCharge(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, stub.invoiceItems, 1)
}

func TestMarkInvoicePaidAndFailed(t *testing.T) {
	svc, _, repo := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)

	payment, err := svc.AppendCharge(context.Background(), AppendChargeInput{
		OwnerID:          owner,
		PurchaseEventID:  uuid.New(),
		ProductCostCents: 1000,
		CadenceDays:      30,
	})
	require.NoError(t, err)
	require.NotNil(t, payment.StripeInvoiceID)

	require.NoError(t, svc.MarkInvoicePaid(context.Background(), *payment.StripeInvoiceID))
	got, err := repo.FindPaymentByInvoice(context.Background(), *payment.StripeInvoiceID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, got.Status)

	account, err := repo.FindAccountByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, enums.BillingAccountStatusActive, account.Status)

	require.NoError(t, svc.MarkInvoiceFailed(context.Background(), *payment.StripeInvoiceID))
	account, err = repo.FindAccountByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, enums.BillingAccountStatusPastDue, account.Status)

	// Unknown invoices (the vehicle's own cycle invoices) are ignored.
	require.NoError(t, svc.MarkInvoicePaid(context.Background(), "in_unknown"))
}

func TestSyncVehicleStatus(t *testing.T) {
	svc, _, repo := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)
	account, err := svc.CreateBillingVehicle(context.Background(), owner)
	require.NoError(t, err)

	require.NoError(t, svc.SyncVehicleStatus(context.Background(), *account.StripeSubscriptionID, stripe.SubscriptionStatusPastDue))
	got, err := repo.FindAccountByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, enums.BillingAccountStatusPastDue, got.Status)

	require.NoError(t, svc.SyncVehicleStatus(context.Background(), *account.StripeSubscriptionID, stripe.SubscriptionStatusCanceled))
	got, err = repo.FindAccountByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, enums.BillingAccountStatusCanceled, got.Status)
	assert.NotNil(t, got.CanceledAt)

	// Unknown subscriptions are a no-op.
	require.NoError(t, svc.SyncVehicleStatus(context.Background(), "sub_unknown", stripe.SubscriptionStatusActive))
}

func TestCancelBillingVehicle(t *testing.T) {
	svc, stub, _ := newTestBillingService(t)
	owner := uuid.New()
	_, err := svc.EnsureCustomer(context.Background(), owner, "")
	require.NoError(t, err)
	account, err := svc.CreateBillingVehicle(context.Background(), owner)
	require.NoError(t, err)

	canceled, err := svc.CancelBillingVehicle(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, enums.BillingAccountStatusCanceled, canceled.Status)
	assert.Equal(t, []string{*account.StripeSubscriptionID}, stub.canceled)

	// Repeat cancel does not hit Stripe again.
	_, err = svc.CancelBillingVehicle(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, stub.canceled, 1)
}

package billing

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/invoiceitem"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/restockhq/restock-backend/pkg/stripe"
)

// StripeBillingClient exposes the subset of Stripe operations the billing
// bridge relies on.
type StripeBillingClient interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	CreateInvoiceItem(ctx context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error)
	CreateInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error)
	FinalizeInvoice(ctx context.Context, id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error)
}

// stripeClientWrapper carries per-service clients keyed from the injected
// client, not from the package-level stripe.Key.
type stripeClientWrapper struct {
	customers     customer.Client
	subscriptions subscription.Client
	invoiceItems  invoiceitem.Client
	invoices      invoice.Client
}

// NewStripeClient wraps the shared Stripe client so the billing service can
// be tested against a stub.
func NewStripeClient(api *pkgstripe.Client) StripeBillingClient {
	if api == nil {
		return nil
	}
	backend := stripe.GetBackend(stripe.APIBackend)
	key := api.Key()
	return &stripeClientWrapper{
		customers:     customer.Client{B: backend, Key: key},
		subscriptions: subscription.Client{B: backend, Key: key},
		invoiceItems:  invoiceitem.Client{B: backend, Key: key},
		invoices:      invoice.Client{B: backend, Key: key},
	}
}

func (w *stripeClientWrapper) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params != nil {
		params.Context = ctx
	}
	return w.customers.New(params)
}

func (w *stripeClientWrapper) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return w.subscriptions.New(params)
}

func (w *stripeClientWrapper) CancelSubscription(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return w.subscriptions.Cancel(id, params)
}

func (w *stripeClientWrapper) CreateInvoiceItem(ctx context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	if params != nil {
		params.Context = ctx
	}
	return w.invoiceItems.New(params)
}

func (w *stripeClientWrapper) CreateInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	if params != nil {
		params.Context = ctx
	}
	return w.invoices.New(params)
}

func (w *stripeClientWrapper) FinalizeInvoice(ctx context.Context, id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	if params != nil {
		params.Context = ctx
	}
	return w.invoices.FinalizeInvoice(id, params)
}

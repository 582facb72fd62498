package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/internal/billing"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

// chargeAppendNamespace derives deterministic purchase event ids for cycle
// charges, so a redelivered invoice.created never double-charges.
var chargeAppendNamespace = uuid.MustParse("8b6f9d52-1a0e-4f5c-9b7d-3e2a6c1d4f80")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// intentErrorMarker records a failed purchase on the originating intent.
type intentErrorMarker interface {
	MarkError(ctx context.Context, intentID uuid.UUID, reason string) error
}

// ownerCanceler cascade-cancels an owner's subscriptions.
type ownerCanceler interface {
	CancelAllForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, at time.Time) (int64, error)
}

// ServiceParams configure the webhook reconciler.
type ServiceParams struct {
	Billing           billing.Service
	BillingRepo       billing.Repository
	Intents           intentErrorMarker
	Subscriptions     subscriptions.Repository
	SubscriptionsSvc  ownerCanceler
	Orders            orders.Repository
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service reconciles asynchronous processor events against local state. Every
// handler tolerates at-least-once, any-order delivery.
type Service struct {
	billing     billing.Service
	billingRepo billing.Repository
	intents     intentErrorMarker
	subs        subscriptions.Repository
	subsSvc     ownerCanceler
	orders      orders.Repository
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService builds a webhook reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Billing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing service required")
	}
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intent marker required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repo required")
	}
	if params.SubscriptionsSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions service required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billing:     params.Billing,
		billingRepo: params.BillingRepo,
		intents:     params.Intents,
		subs:        params.Subscriptions,
		subsSvc:     params.SubscriptionsSvc,
		orders:      params.Orders,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// HandleEvent dispatches one verified processor event. An error here surfaces
// as a 500 so the processor redelivers.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		return s.handleInvoicePaid(ctx, event.GetObjectValue("id"))
	case stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoiceFailed(ctx, event.GetObjectValue("id"))
	case stripe.EventTypeInvoiceCreated:
		return s.handleInvoiceCreated(ctx, event.GetObjectValue("id"), event.GetObjectValue("subscription"))
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			stripeSub.Status = stripe.SubscriptionStatusCanceled
		}
		return s.syncVehicle(ctx, &stripeSub)
	default:
		return nil
	}
}

// handleInvoicePaid marks the payment succeeded and settles the order it paid
// for. Invoices without a local payment row belong to the vehicle's own cycle
// and are ignored.
func (s *Service) handleInvoicePaid(ctx context.Context, invoiceID string) error {
	if invoiceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing")
	}
	if err := s.billing.MarkInvoicePaid(ctx, invoiceID); err != nil {
		return err
	}

	payment, err := s.billingRepo.FindPaymentByInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.PurchaseEventID == nil {
		return nil
	}

	order, err := s.orders.FindByID(ctx, *payment.PurchaseEventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Cycle charge without a 1:1 order. Nothing to settle.
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status == enums.OrderStatusSucceeded {
		return nil
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, enums.OrderStatusSucceeded); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle order")
	}
	return nil
}

// handleInvoiceFailed marks the payment failed and flags the originating
// intent so the owner sees the problem.
func (s *Service) handleInvoiceFailed(ctx context.Context, invoiceID string) error {
	if invoiceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing")
	}
	if err := s.billing.MarkInvoiceFailed(ctx, invoiceID); err != nil {
		return err
	}

	payment, err := s.billingRepo.FindPaymentByInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.PurchaseEventID == nil {
		return nil
	}

	intentID, err := s.intentForPurchase(ctx, *payment.PurchaseEventID)
	if err != nil || intentID == nil {
		return err
	}
	return s.intents.MarkError(ctx, *intentID, fmt.Sprintf("payment failed for invoice %s", invoiceID))
}

// handleInvoiceCreated appends one cycle charge per active subscription of
// the vehicle's owner. One subscription's failure never blocks the rest; the
// deterministic purchase event id keeps redelivery from double-charging.
func (s *Service) handleInvoiceCreated(ctx context.Context, invoiceID, stripeSubscriptionID string) error {
	if stripeSubscriptionID == "" {
		// One-off invoices we finalize ourselves carry no vehicle.
		return nil
	}
	account, err := s.billingRepo.FindAccountByStripeSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}

	subs, err := s.subs.ListByOwner(ctx, account.OwnerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}

	var failures error
	for i := range subs {
		sub := &subs[i]
		if sub.Status != enums.SubscriptionStatusActive || sub.LastPriceCents == nil {
			continue
		}
		eventID := uuid.NewSHA1(chargeAppendNamespace, []byte(sub.ID.String()+"/"+invoiceID))
		if _, err := s.billing.AppendCharge(ctx, billing.AppendChargeInput{
			OwnerID:          account.OwnerID,
			PurchaseEventID:  eventID,
			ProductCostCents: *sub.LastPriceCents,
			CadenceDays:      sub.RenewalFrequencyDays,
		}); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("cycle charge for subscription %s failed: %v", sub.ID, err))
			failures = multierr.Append(failures, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}
	return failures
}

// syncVehicle mirrors the processor's vehicle status locally. Activation
// retro-appends charges for purchases fulfilled before the vehicle existed;
// cancellation cascades to every subscription of the owner.
func (s *Service) syncVehicle(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	if err := s.billing.SyncVehicleStatus(ctx, stripeSub.ID, stripeSub.Status); err != nil {
		return err
	}

	account, err := s.billingRepo.FindAccountByStripeSubscription(ctx, stripeSub.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}

	switch stripeSub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return s.retroAppendCharges(ctx, account.OwnerID)
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			count, err := s.subsSvc.CancelAllForOwner(ctx, tx, account.OwnerID, time.Now().UTC())
			if err != nil {
				return err
			}
			if count > 0 {
				s.logg.Info(ctx, fmt.Sprintf("vehicle canceled, cascaded to %d subscriptions", count))
			}
			return nil
		})
	default:
		return nil
	}
}

// retroAppendCharges bills fulfilled purchases that have no payment row yet,
// closing the race where checkout finished before the vehicle activated.
func (s *Service) retroAppendCharges(ctx context.Context, ownerID uuid.UUID) error {
	subs, err := s.subs.ListByOwner(ctx, ownerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}

	var failures error
	for i := range subs {
		sub := &subs[i]
		if sub.Status != enums.SubscriptionStatusActive {
			continue
		}
		orderRows, err := s.orders.ListBySubscription(ctx, sub.ID)
		if err != nil {
			failures = multierr.Append(failures, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		for j := range orderRows {
			order := &orderRows[j]
			if order.PriceCents <= 0 {
				continue
			}
			if _, err := s.billingRepo.FindPaymentByPurchaseEvent(ctx, order.ID); err == nil {
				continue
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				failures = multierr.Append(failures, fmt.Errorf("order %s: %w", order.ID, err))
				continue
			}
			if _, err := s.billing.AppendCharge(ctx, billing.AppendChargeInput{
				OwnerID:          ownerID,
				PurchaseEventID:  order.ID,
				ProductCostCents: order.PriceCents,
				CadenceDays:      sub.RenewalFrequencyDays,
			}); err != nil {
				failures = multierr.Append(failures, fmt.Errorf("order %s: %w", order.ID, err))
			}
		}
	}
	return failures
}

// intentForPurchase walks purchase event -> order -> subscription -> intent.
func (s *Service) intentForPurchase(ctx context.Context, purchaseEventID uuid.UUID) (*uuid.UUID, error) {
	order, err := s.orders.FindByID(ctx, purchaseEventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	sub, err := s.subs.FindByID(ctx, order.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub.IntentID, nil
}

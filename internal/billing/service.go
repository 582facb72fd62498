package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

const purchaseEventMetadataKey = "purchase_event_id"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service bridges local purchase events onto the payment processor.
type Service interface {
	EnsureCustomer(ctx context.Context, ownerID uuid.UUID, email string) (*models.BillingAccount, error)
	CreateBillingVehicle(ctx context.Context, ownerID uuid.UUID) (*models.BillingAccount, error)
	CancelBillingVehicle(ctx context.Context, ownerID uuid.UUID) (*models.BillingAccount, error)
	AppendCharge(ctx context.Context, input AppendChargeInput) (*models.Payment, error)
	MarkInvoicePaid(ctx context.Context, stripeInvoiceID string) error
	MarkInvoiceFailed(ctx context.Context, stripeInvoiceID string) error
	SyncVehicleStatus(ctx context.Context, stripeSubscriptionID string, stripeStatus stripe.SubscriptionStatus) error
}

// ServiceParams configure the billing service.
type ServiceParams struct {
	Repo              Repository
	Stripe            StripeBillingClient
	TransactionRunner txRunner
	StripeConfig      config.StripeConfig
	BillingConfig     config.BillingConfig
}

type service struct {
	repo      Repository
	stripe    StripeBillingClient
	tx        txRunner
	stripeCfg config.StripeConfig
	cfg       config.BillingConfig
}

// NewService builds a billing service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:      params.Repo,
		stripe:    params.Stripe,
		tx:        params.TransactionRunner,
		stripeCfg: params.StripeConfig,
		cfg:       params.BillingConfig,
	}, nil
}

// AppendChargeInput describes one purchase event to push onto the processor.
type AppendChargeInput struct {
	OwnerID          uuid.UUID
	PurchaseEventID  uuid.UUID
	ProductCostCents int64
	CadenceDays      int
}

// EnsureCustomer returns the owner's billing account, creating the Stripe
// customer on first use.
func (s *service) EnsureCustomer(ctx context.Context, ownerID uuid.UUID, email string) (*models.BillingAccount, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	account, err := s.repo.FindAccountByOwner(ctx, ownerID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{"owner_id": ownerID.String()},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	cust, err := s.stripe.CreateCustomer(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}

	account = &models.BillingAccount{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		StripeCustomerID: cust.ID,
		Status:           enums.BillingAccountStatusIncomplete,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.repo.FindAccountByOwner(ctx, ownerID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing account")
	}
	return account, nil
}

// CreateBillingVehicle opens the recurring processor subscription that hosts
// appended charges. Idempotent per owner.
func (s *service) CreateBillingVehicle(ctx context.Context, ownerID uuid.UUID) (*models.BillingAccount, error) {
	account, err := s.requireAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account.StripeSubscriptionID != nil && *account.StripeSubscriptionID != "" {
		return account, nil
	}
	if s.stripeCfg.PriceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe price id not configured")
	}

	sub, err := s.stripe.CreateSubscription(ctx, &stripe.SubscriptionParams{
		Customer: stripe.String(account.StripeCustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(s.stripeCfg.PriceID)},
		},
		Metadata: map[string]string{"owner_id": account.OwnerID.String()},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe subscription")
	}

	account.StripeSubscriptionID = &sub.ID
	account.Status = vehicleStatusFromStripe(sub.Status)
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store billing vehicle")
	}
	return account, nil
}

func (s *service) CancelBillingVehicle(ctx context.Context, ownerID uuid.UUID) (*models.BillingAccount, error) {
	account, err := s.requireAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account.StripeSubscriptionID == nil || *account.StripeSubscriptionID == "" {
		return account, nil
	}
	if account.Status == enums.BillingAccountStatusCanceled {
		return account, nil
	}

	if _, err := s.stripe.CancelSubscription(ctx, *account.StripeSubscriptionID, &stripe.SubscriptionCancelParams{}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe subscription")
	}
	now := time.Now().UTC()
	account.Status = enums.BillingAccountStatusCanceled
	account.CanceledAt = &now
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store canceled vehicle")
	}
	return account, nil
}

// AppendCharge pushes one prorated charge line for the purchase event. The
// unique Payment row per purchase event makes redelivered appends a no-op.
func (s *service) AppendCharge(ctx context.Context, input AppendChargeInput) (*models.Payment, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if input.PurchaseEventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase event id required")
	}

	if existing, err := s.repo.FindPaymentByPurchaseEvent(ctx, input.PurchaseEventID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing payment")
	}

	account, err := s.requireAccount(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}

	amount, err := Prorate(input.CadenceDays, input.ProductCostCents)
	if err != nil {
		return nil, err
	}
	fee := serviceFee(amount, s.cfg.ServiceFeeBps)
	total := amount + fee
	description := ChargeDescription(input.CadenceDays)
	currency := s.currency()

	eventID := input.PurchaseEventID
	payment := &models.Payment{
		ID:               uuid.New(),
		OwnerID:          input.OwnerID,
		PurchaseEventID:  &eventID,
		ProductCostCents: amount,
		ServiceFeeCents:  fee,
		Currency:         currency,
		Description:      &description,
		Status:           enums.PaymentStatusPending,
	}

	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(account.StripeCustomerID),
		Amount:      stripe.Int64(total),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
		Metadata:    map[string]string{purchaseEventMetadataKey: input.PurchaseEventID.String()},
	}

	hasVehicle := account.StripeSubscriptionID != nil && *account.StripeSubscriptionID != ""
	if hasVehicle {
		// Default mode: the line rides the vehicle's next periodic
		// invoice.
		itemParams.Subscription = stripe.String(*account.StripeSubscriptionID)
		item, err := s.stripe.CreateInvoiceItem(ctx, itemParams)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append invoice item")
		}
		payment.StripeInvoiceItemID = &item.ID
	} else {
		// No vehicle yet: bill immediately with a one-off invoice.
		item, err := s.stripe.CreateInvoiceItem(ctx, itemParams)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice item")
		}
		payment.StripeInvoiceItemID = &item.ID

		inv, err := s.stripe.CreateInvoice(ctx, &stripe.InvoiceParams{
			Customer:    stripe.String(account.StripeCustomerID),
			AutoAdvance: stripe.Bool(true),
			Metadata:    map[string]string{purchaseEventMetadataKey: input.PurchaseEventID.String()},
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create one-off invoice")
		}
		finalized, err := s.stripe.FinalizeInvoice(ctx, inv.ID, &stripe.InvoiceFinalizeInvoiceParams{})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize one-off invoice")
		}
		payment.StripeInvoiceID = &finalized.ID
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.repo.FindPaymentByPurchaseEvent(ctx, input.PurchaseEventID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment")
	}
	return payment, nil
}

// MarkInvoicePaid settles the local payment for the invoice. Invoices without
// a matching payment row (the vehicle's own cycle invoices) are ignored.
func (s *service) MarkInvoicePaid(ctx context.Context, stripeInvoiceID string) error {
	return s.markInvoice(ctx, stripeInvoiceID, enums.PaymentStatusSucceeded, enums.BillingAccountStatusActive)
}

func (s *service) MarkInvoiceFailed(ctx context.Context, stripeInvoiceID string) error {
	return s.markInvoice(ctx, stripeInvoiceID, enums.PaymentStatusFailed, enums.BillingAccountStatusPastDue)
}

func (s *service) markInvoice(ctx context.Context, stripeInvoiceID string, paymentStatus enums.PaymentStatus, accountStatus enums.BillingAccountStatus) error {
	if stripeInvoiceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindPaymentByInvoice(ctx, stripeInvoiceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.Status == paymentStatus {
			return nil
		}
		payment.Status = paymentStatus
		if err := repo.UpdatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}

		account, err := repo.FindAccountByOwner(ctx, payment.OwnerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
		}
		if account.Status == enums.BillingAccountStatusCanceled || account.Status == accountStatus {
			return nil
		}
		account.Status = accountStatus
		if err := repo.UpdateAccount(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update billing account")
		}
		return nil
	})
}

// SyncVehicleStatus reconciles the local account with the processor's view
// of the billing subscription.
func (s *service) SyncVehicleStatus(ctx context.Context, stripeSubscriptionID string, stripeStatus stripe.SubscriptionStatus) error {
	if stripeSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription id required")
	}
	account, err := s.repo.FindAccountByStripeSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}
	next := vehicleStatusFromStripe(stripeStatus)
	if account.Status == next {
		return nil
	}
	account.Status = next
	if next == enums.BillingAccountStatusCanceled && account.CanceledAt == nil {
		now := time.Now().UTC()
		account.CanceledAt = &now
	}
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update billing account")
	}
	return nil
}

func (s *service) requireAccount(ctx context.Context, ownerID uuid.UUID) (*models.BillingAccount, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	account, err := s.repo.FindAccountByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}
	return account, nil
}

func (s *service) currency() string {
	if s.cfg.Currency == "" {
		return "usd"
	}
	return s.cfg.Currency
}

func serviceFee(amountCents, bps int64) int64 {
	if bps <= 0 {
		return 0
	}
	return (amountCents*bps + 5000) / 10000
}

func vehicleStatusFromStripe(status stripe.SubscriptionStatus) enums.BillingAccountStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.BillingAccountStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.BillingAccountStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.BillingAccountStatusCanceled
	default:
		return enums.BillingAccountStatusIncomplete
	}
}

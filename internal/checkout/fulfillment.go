package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/internal/billing"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// FulfillmentParams are the persistence-side dependencies of a completed
// checkout.
type FulfillmentParams struct {
	Subscriptions     subscriptions.Service
	Orders            orders.Repository
	Billing           billing.Service
	TransactionRunner txRunner
}

func (p FulfillmentParams) validate() error {
	if p.Subscriptions == nil {
		return fmt.Errorf("subscriptions service required")
	}
	if p.Orders == nil {
		return fmt.Errorf("orders repository required")
	}
	if p.Billing == nil {
		return fmt.Errorf("billing service required")
	}
	if p.TransactionRunner == nil {
		return fmt.Errorf("transaction runner required")
	}
	return nil
}

// FirstPurchaseInput records the completed first purchase of an intent.
type FirstPurchaseInput struct {
	Intent    *models.SubscriptionIntent
	AddressID *uuid.UUID
	Outcome   *Outcome
}

// FirstPurchaseResult is the ledger state created from a first purchase.
type FirstPurchaseResult struct {
	Subscription *models.Subscription
	Order        *models.Order
	Payment      *models.Payment
}

// CompleteFirstPurchase births the subscription and its first order from a
// completed checkout, then appends the charge. An owner without a billing
// account yet is tolerated: the webhook reconciler retro-appends once the
// billing vehicle activates.
func (s *service) CompleteFirstPurchase(ctx context.Context, input FirstPurchaseInput) (*FirstPurchaseResult, error) {
	if input.Intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent required")
	}
	if err := validateCompletedOutcome(input.Outcome); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &FirstPurchaseResult{}
	err := s.fulfill.TransactionRunner.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.fulfill.Subscriptions.CreateFromPurchase(ctx, tx, subscriptions.CreateFromPurchaseInput{
			OwnerID:              input.Intent.OwnerID,
			ProductRef:           input.Intent.ProductRef,
			IntentID:             &input.Intent.ID,
			RenewalFrequencyDays: input.Intent.CadenceDays,
			PriceCents:           input.Outcome.PriceObservedCents,
			AddressID:            input.AddressID,
			PurchasedAt:          now,
		})
		if err != nil {
			return err
		}
		order, err := s.recordOrder(ctx, tx, sub.ID, input.Outcome)
		if err != nil {
			return err
		}
		result.Subscription = sub
		result.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Payment = s.appendCharge(ctx, input.Intent.OwnerID, result.Order.ID,
		input.Outcome.PriceObservedCents, input.Intent.CadenceDays)
	return result, nil
}

// RenewalPurchaseInput records a completed renewal purchase.
type RenewalPurchaseInput struct {
	Subscription *models.Subscription
	CadenceDays  int
	Outcome      *Outcome
}

// RenewalPurchaseResult is the ledger state updated by a renewal.
type RenewalPurchaseResult struct {
	Subscription *models.Subscription
	Order        *models.Order
	Payment      *models.Payment
}

// RecordRenewalPurchase stores the order and advances the renewal schedule.
// A replayed order reference leaves the ledger untouched.
func (s *service) RecordRenewalPurchase(ctx context.Context, input RenewalPurchaseInput) (*RenewalPurchaseResult, error) {
	if input.Subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	if err := validateCompletedOutcome(input.Outcome); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &RenewalPurchaseResult{}
	alreadyRecorded := false
	err := s.fulfill.TransactionRunner.WithTx(ctx, func(tx *gorm.DB) error {
		order, existed, err := s.recordOrderIdempotent(ctx, tx, input.Subscription.ID, input.Outcome)
		if err != nil {
			return err
		}
		result.Order = order
		alreadyRecorded = existed
		if existed {
			result.Subscription = input.Subscription
			return nil
		}
		sub, err := s.fulfill.Subscriptions.RecordPurchase(ctx, tx, input.Subscription.ID, now, input.Outcome.PriceObservedCents)
		if err != nil {
			return err
		}
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyRecorded {
		return result, nil
	}

	cadence := input.CadenceDays
	if cadence <= 0 {
		cadence = input.Subscription.RenewalFrequencyDays
	}
	// Skip the charge when the agent could not observe a price.
	if input.Outcome.PriceObservedCents > 0 {
		result.Payment = s.appendCharge(ctx, input.Subscription.OwnerID, result.Order.ID,
			input.Outcome.PriceObservedCents, cadence)
	}
	return result, nil
}

func (s *service) recordOrder(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, outcome *Outcome) (*models.Order, error) {
	order := &models.Order{
		ID:               uuid.New(),
		SubscriptionID:   subscriptionID,
		AgentRunID:       outcome.RunID,
		Merchant:         outcome.Merchant,
		ExternalOrderRef: outcome.OrderReference,
		PriceCents:       outcome.PriceObservedCents,
		Receipt:          outcome.Receipt,
		Status:           enums.OrderStatusProcessing,
	}
	created, err := s.fulfill.Orders.WithTx(tx).Create(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order")
	}
	return created, nil
}

func (s *service) recordOrderIdempotent(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, outcome *Outcome) (*models.Order, bool, error) {
	repo := s.fulfill.Orders.WithTx(tx)
	order, err := s.recordOrder(ctx, tx, subscriptionID, outcome)
	if err == nil {
		return order, false, nil
	}
	if db.IsUniqueViolation(err, "") {
		existing, findErr := repo.FindBySubscriptionAndRef(ctx, subscriptionID, outcome.OrderReference)
		if findErr != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing order")
		}
		return existing, true, nil
	}
	return nil, false, err
}

func (s *service) appendCharge(ctx context.Context, ownerID, purchaseEventID uuid.UUID, priceCents int64, cadenceDays int) *models.Payment {
	payment, err := s.fulfill.Billing.AppendCharge(ctx, billing.AppendChargeInput{
		OwnerID:          ownerID,
		PurchaseEventID:  purchaseEventID,
		ProductCostCents: priceCents,
		CadenceDays:      cadenceDays,
	})
	if err != nil {
		// No billing account yet, or the processor call failed. The
		// purchase is recorded either way; reconciliation appends the
		// charge later.
		s.logg.Warn(ctx, "charge append deferred: "+err.Error())
		return nil
	}
	return payment
}

func validateCompletedOutcome(outcome *Outcome) error {
	if outcome == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "outcome required")
	}
	if !outcome.Success || outcome.RequiresManualIntervention {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout is not completed")
	}
	if outcome.OrderReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order reference required")
	}
	return nil
}

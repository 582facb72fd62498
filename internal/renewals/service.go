package renewals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/internal/addresses"
	"github.com/restockhq/restock-backend/internal/checkout"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/config"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
	"github.com/restockhq/restock-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// executor is the slice of the checkout orchestrator the sweep drives.
type executor interface {
	Execute(ctx context.Context, input checkout.ExecuteInput) (*checkout.Outcome, error)
	RecordRenewalPurchase(ctx context.Context, input checkout.RenewalPurchaseInput) (*checkout.RenewalPurchaseResult, error)
}

// addressResolver yields the address a renewal ships to.
type addressResolver interface {
	ResolveForCheckout(ctx context.Context, ownerID uuid.UUID, addressID *uuid.UUID) (*models.DeliveryAddress, error)
}

// Service drives due manual-renewal subscriptions through repurchase.
type Service interface {
	Sweep(ctx context.Context, input SweepInput) (*Report, error)
	PreviewDue(ctx context.Context, input SweepInput) ([]models.Subscription, error)
}

// ServiceParams configure the renewal sweeper.
type ServiceParams struct {
	Subscriptions     subscriptions.Repository
	SubscriptionsSvc  subscriptions.Service
	Intents           intents.Repository
	Addresses         addressResolver
	Checkout          executor
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.SweepMetrics
	Config            config.RenewalsConfig
}

type service struct {
	subs    subscriptions.Repository
	subsSvc subscriptions.Service
	intents intents.Repository
	addrs   addressResolver
	chk     executor
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.SweepMetrics
	cfg     config.RenewalsConfig
}

// NewService builds a renewal sweeper.
func NewService(params ServiceParams) (Service, error) {
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if params.SubscriptionsSvc == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intents repository required")
	}
	if params.Addresses == nil {
		return nil, fmt.Errorf("address resolver required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout executor required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		subs:    params.Subscriptions,
		subsSvc: params.SubscriptionsSvc,
		intents: params.Intents,
		addrs:   params.Addresses,
		chk:     params.Checkout,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     params.Config,
	}, nil
}

// SweepInput scopes one sweep cycle. A zero Now means the current time; a
// zero Limit falls back to the configured batch limit.
type SweepInput struct {
	Now   time.Time
	Limit int
}

// ItemError is one subscription the sweep could not renew.
type ItemError struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	RunID          uuid.UUID `json:"run_id,omitempty"`
	Reason         string    `json:"reason"`
}

// Report summarizes one sweep cycle.
type Report struct {
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Sweep renews every due subscription in the batch. One item's failure never
// stops the rest; the report carries per-item errors.
func (s *service) Sweep(ctx context.Context, input SweepInput) (*Report, error) {
	due, err := s.listDue(ctx, input)
	if err != nil {
		return nil, err
	}

	report := &Report{Total: len(due)}
	for i := range due {
		sub := &due[i]
		itemCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())

		runID, itemErr := s.renewOne(itemCtx, sub)
		report.Processed++
		if itemErr != nil {
			report.Failed++
			report.Errors = append(report.Errors, ItemError{
				SubscriptionID: sub.ID,
				RunID:          runID,
				Reason:         itemErr.Error(),
			})
			s.metrics.IncItem("failed")
			s.logg.Warn(itemCtx, "renewal failed: "+itemErr.Error())
			continue
		}
		report.Succeeded++
		s.metrics.IncItem("succeeded")
	}

	s.logg.Info(ctx, fmt.Sprintf("renewal sweep finished: total=%d succeeded=%d failed=%d",
		report.Total, report.Succeeded, report.Failed))
	return report, nil
}

// PreviewDue lists the subscriptions the next sweep would pick up, without
// touching any of them.
func (s *service) PreviewDue(ctx context.Context, input SweepInput) ([]models.Subscription, error) {
	return s.listDue(ctx, input)
}

func (s *service) listDue(ctx context.Context, input SweepInput) ([]models.Subscription, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.cfg.BatchLimit
	}
	if limit <= 0 {
		limit = 100
	}

	due, err := s.subs.ListDue(ctx, now.Add(s.cfg.Lookahead), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}
	return due, nil
}

// renewOne drives a single subscription through one repurchase attempt.
// Renewals always use the one-off strategy; merchant-native enrollments renew
// on the merchant's side and never reach the due queue.
func (s *service) renewOne(ctx context.Context, sub *models.Subscription) (uuid.UUID, error) {
	address, err := s.addrs.ResolveForCheckout(ctx, sub.OwnerID, sub.AddressID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve address: %w", err)
	}

	var priceCap *int64
	var constraints []byte
	if sub.IntentID != nil {
		intent, err := s.intents.FindByID(ctx, *sub.IntentID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("resolve intent: %w", err)
		}
		priceCap = intent.PriceCapCents
		constraints = intent.Constraints
	}

	runID := uuid.New()
	outcome, err := s.chk.Execute(ctx, checkout.ExecuteInput{
		RunID:          runID,
		Strategy:       enums.CheckoutStrategyManualOneOff,
		SubscriptionID: &sub.ID,
		ProductRef:     sub.ProductRef,
		PriceCapCents:  priceCap,
		Address:        addresses.Wire(address),
		Constraints:    constraints,
	})
	if err != nil {
		return runID, err
	}

	if outcome.RequiresManualIntervention {
		// The session stays open for a person to finish; the subscription
		// keeps its schedule so the next sweep re-checks it.
		return runID, fmt.Errorf("halted for manual intervention, session %s", deref(outcome.SessionHandle))
	}

	if !outcome.Success {
		if pauseErr := s.pauseForFailure(ctx, sub.ID, outcome.ErrorText); pauseErr != nil {
			return runID, fmt.Errorf("%s (pause also failed: %v)", outcome.ErrorText, pauseErr)
		}
		return runID, fmt.Errorf("%s", outcome.ErrorText)
	}

	if _, err := s.chk.RecordRenewalPurchase(ctx, checkout.RenewalPurchaseInput{
		Subscription: sub,
		Outcome:      outcome,
	}); err != nil {
		return runID, fmt.Errorf("record purchase: %w", err)
	}
	return runID, nil
}

func (s *service) pauseForFailure(ctx context.Context, subscriptionID uuid.UUID, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.subsSvc.PauseForFailure(ctx, tx, subscriptionID, reason)
	})
}

func deref(handle *string) string {
	if handle == nil {
		return ""
	}
	return *handle
}

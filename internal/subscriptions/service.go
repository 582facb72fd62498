package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the subscription ledger operations.
type Service interface {
	CreateFromPurchase(ctx context.Context, tx *gorm.DB, input CreateFromPurchaseInput) (*models.Subscription, error)
	RecordPurchase(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, purchasedAt time.Time, priceCents int64) (*models.Subscription, error)
	Get(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*models.Subscription, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]models.Subscription, error)
	Pause(ctx context.Context, ownerID, subscriptionID uuid.UUID, reason string) (*models.Subscription, error)
	Resume(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*models.Subscription, error)
	PauseForFailure(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, reason string) error
	CancelAllForIntent(ctx context.Context, tx *gorm.DB, intentID uuid.UUID, at time.Time) (int64, error)
	CancelAllForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, at time.Time) (int64, error)
}

// ServiceParams configure the subscription service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService builds a subscription service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: params.Repo, tx: params.TransactionRunner}, nil
}

// CreateFromPurchaseInput captures the first successful purchase that births
// a subscription.
type CreateFromPurchaseInput struct {
	OwnerID              uuid.UUID
	ProductRef           string
	IntentID             *uuid.UUID
	RenewalFrequencyDays int
	PriceCents           int64
	AddressID            *uuid.UUID
	PurchasedAt          time.Time
}

// CreateFromPurchase records a new subscription inside the caller's
// transaction. NextRenewalAt is derived from the purchase time, never from
// wall-clock now.
func (s *service) CreateFromPurchase(ctx context.Context, tx *gorm.DB, input CreateFromPurchaseInput) (*models.Subscription, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if strings.TrimSpace(input.ProductRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product reference required")
	}
	if input.RenewalFrequencyDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "renewal frequency must be positive")
	}
	if input.PurchasedAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase time required")
	}

	purchasedAt := input.PurchasedAt.UTC()
	price := input.PriceCents
	sub := &models.Subscription{
		ID:                   uuid.New(),
		OwnerID:              input.OwnerID,
		ProductRef:           strings.TrimSpace(input.ProductRef),
		IntentID:             input.IntentID,
		RenewalFrequencyDays: input.RenewalFrequencyDays,
		LastPriceCents:       &price,
		AddressID:            input.AddressID,
		Status:               enums.SubscriptionStatusActive,
		NextRenewalAt:        nextRenewal(purchasedAt, input.RenewalFrequencyDays),
		LastPurchasedAt:      &purchasedAt,
	}
	created, err := s.repo.WithTx(tx).Create(ctx, sub)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return created, nil
}

// RecordPurchase advances the renewal schedule after a successful purchase.
// The row is locked so a concurrent owner mutation cannot interleave.
func (s *service) RecordPurchase(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, purchasedAt time.Time, priceCents int64) (*models.Subscription, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByIDForUpdate(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.Status == enums.SubscriptionStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is canceled")
	}

	at := purchasedAt.UTC()
	sub.LastPurchasedAt = &at
	sub.LastPriceCents = &priceCents
	sub.NextRenewalAt = nextRenewal(at, sub.RenewalFrequencyDays)
	if err := repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record purchase")
	}
	return sub, nil
}

func (s *service) Get(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	return s.loadOwned(ctx, s.repo, ownerID, subscriptionID, false)
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID) ([]models.Subscription, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	subs, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, nil
}

func (s *service) Pause(ctx context.Context, ownerID, subscriptionID uuid.UUID, reason string) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, ownerID, subscriptionID, true)
		if err != nil {
			return err
		}
		if sub.Status == enums.SubscriptionStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is canceled")
		}
		if sub.Status == enums.SubscriptionStatusPaused {
			result = sub
			return nil
		}
		now := time.Now().UTC()
		sub.Status = enums.SubscriptionStatusPaused
		sub.PausedAt = &now
		if strings.TrimSpace(reason) != "" {
			trimmed := strings.TrimSpace(reason)
			sub.PauseReason = &trimmed
		}
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pause subscription")
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resume keeps the existing schedule. A NextRenewalAt already in the past
// simply becomes due at the next sweep.
func (s *service) Resume(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, ownerID, subscriptionID, true)
		if err != nil {
			return err
		}
		if sub.Status == enums.SubscriptionStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is canceled")
		}
		if sub.Status == enums.SubscriptionStatusActive {
			result = sub
			return nil
		}
		sub.Status = enums.SubscriptionStatusActive
		sub.PausedAt = nil
		sub.PauseReason = nil
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resume subscription")
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Cancel(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.loadOwned(ctx, repo, ownerID, subscriptionID, true)
		if err != nil {
			return err
		}
		if sub.Status == enums.SubscriptionStatusCanceled {
			result = sub
			return nil
		}
		now := time.Now().UTC()
		sub.Status = enums.SubscriptionStatusCanceled
		sub.CanceledAt = &now
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PauseForFailure parks a subscription after a renewal failure so the sweep
// does not retry it forever. Owner resume puts it back on schedule.
func (s *service) PauseForFailure(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, reason string) error {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByIDForUpdate(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.Status != enums.SubscriptionStatusActive {
		return nil
	}
	now := time.Now().UTC()
	sub.Status = enums.SubscriptionStatusPaused
	sub.PausedAt = &now
	sub.PauseReason = &reason
	if err := repo.Update(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pause subscription")
	}
	return nil
}

// CancelAllForIntent cancels every non-canceled subscription derived from the
// intent, in the caller's transaction.
func (s *service) CancelAllForIntent(ctx context.Context, tx *gorm.DB, intentID uuid.UUID, at time.Time) (int64, error) {
	if intentID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	db := tx
	if db == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	result := db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("intent_id = ? AND status <> ?", intentID, enums.SubscriptionStatusCanceled).
		Updates(map[string]any{
			"status":      enums.SubscriptionStatusCanceled,
			"canceled_at": at,
		})
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "cancel subscriptions for intent")
	}
	return result.RowsAffected, nil
}

// CancelAllForOwner cancels every non-canceled subscription the owner holds.
// Used when the owner's billing vehicle goes away.
func (s *service) CancelAllForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, at time.Time) (int64, error) {
	if ownerID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	db := tx
	if db == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	result := db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("owner_id = ? AND status <> ?", ownerID, enums.SubscriptionStatusCanceled).
		Updates(map[string]any{
			"status":      enums.SubscriptionStatusCanceled,
			"canceled_at": at,
		})
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "cancel subscriptions for owner")
	}
	return result.RowsAffected, nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, ownerID, subscriptionID uuid.UUID, forUpdate bool) (*models.Subscription, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	var (
		sub *models.Subscription
		err error
	)
	if forUpdate {
		sub, err = repo.FindByIDForUpdate(ctx, subscriptionID)
	} else {
		sub, err = repo.FindByID(ctx, subscriptionID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.OwnerID != ownerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func nextRenewal(purchasedAt time.Time, frequencyDays int) time.Time {
	return purchasedAt.Add(time.Duration(frequencyDays) * 24 * time.Hour)
}

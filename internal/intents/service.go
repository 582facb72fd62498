package intents

import (
	"context"
	"encoding/json"
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

// derivedCanceler cancels the subscriptions that were created from an intent.
type derivedCanceler interface {
	CancelAllForIntent(ctx context.Context, tx *gorm.DB, intentID uuid.UUID, at time.Time) (int64, error)
}

// Service exposes the intent registry operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.SubscriptionIntent, error)
	Get(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]models.SubscriptionIntent, error)
	Update(ctx context.Context, input UpdateInput) (*models.SubscriptionIntent, error)
	Pause(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error)
	Resume(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error)
	Cancel(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error)
	MarkError(ctx context.Context, intentID uuid.UUID, reason string) error
}

// ServiceParams configure the intent service.
type ServiceParams struct {
	Repo              Repository
	Derived           derivedCanceler
	TransactionRunner txRunner
}

type service struct {
	repo    Repository
	derived derivedCanceler
	tx      txRunner
}

// NewService builds an intent service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("intents repository required")
	}
	if params.Derived == nil {
		return nil, fmt.Errorf("derived subscription canceler required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:    params.Repo,
		derived: params.Derived,
		tx:      params.TransactionRunner,
	}, nil
}

// CreateInput captures a new intent declaration.
type CreateInput struct {
	OwnerID       uuid.UUID
	Title         string
	ProductRef    string
	CadenceDays   int
	PriceCapCents *int64
	Constraints   json.RawMessage
}

// UpdateInput carries the mutable intent fields. Nil pointers leave the
// current value untouched.
type UpdateInput struct {
	OwnerID       uuid.UUID
	IntentID      uuid.UUID
	Title         *string
	CadenceDays   *int
	PriceCapCents *int64
	ClearPriceCap bool
	Constraints   json.RawMessage
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.SubscriptionIntent, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
	}
	if strings.TrimSpace(input.ProductRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product reference required")
	}
	if input.CadenceDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cadence days must be positive")
	}
	if input.PriceCapCents != nil && *input.PriceCapCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cap must be positive")
	}

	intent := &models.SubscriptionIntent{
		ID:            uuid.New(),
		OwnerID:       input.OwnerID,
		Title:         strings.TrimSpace(input.Title),
		ProductRef:    strings.TrimSpace(input.ProductRef),
		CadenceDays:   input.CadenceDays,
		PriceCapCents: input.PriceCapCents,
		Constraints:   input.Constraints,
		Status:        enums.IntentStatusActive,
	}
	created, err := s.repo.Create(ctx, intent)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create intent")
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error) {
	return s.loadOwned(ctx, s.repo, ownerID, intentID)
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID) ([]models.SubscriptionIntent, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	intents, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list intents")
	}
	return intents, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.SubscriptionIntent, error) {
	if input.CadenceDays != nil && *input.CadenceDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cadence days must be positive")
	}
	if input.PriceCapCents != nil && *input.PriceCapCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cap must be positive")
	}

	var updated *models.SubscriptionIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := s.loadOwned(ctx, repo, input.OwnerID, input.IntentID)
		if err != nil {
			return err
		}
		if intent.Status == enums.IntentStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent is canceled")
		}

		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "title required")
			}
			intent.Title = title
		}
		if input.CadenceDays != nil {
			intent.CadenceDays = *input.CadenceDays
		}
		if input.ClearPriceCap {
			intent.PriceCapCents = nil
		} else if input.PriceCapCents != nil {
			intent.PriceCapCents = input.PriceCapCents
		}
		if input.Constraints != nil {
			intent.Constraints = input.Constraints
		}

		if err := repo.Update(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update intent")
		}
		updated = intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Pause(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error) {
	return s.transition(ctx, ownerID, intentID, enums.IntentStatusPaused, func(intent *models.SubscriptionIntent) error {
		if intent.Status == enums.IntentStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent is canceled")
		}
		return nil
	})
}

func (s *service) Resume(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error) {
	return s.transition(ctx, ownerID, intentID, enums.IntentStatusActive, func(intent *models.SubscriptionIntent) error {
		if intent.Status == enums.IntentStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent is canceled")
		}
		return nil
	})
}

// Cancel is terminal. Every subscription derived from the intent is canceled
// in the same transaction.
func (s *service) Cancel(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error) {
	var canceled *models.SubscriptionIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := s.loadOwned(ctx, repo, ownerID, intentID)
		if err != nil {
			return err
		}
		if intent.Status == enums.IntentStatusCanceled {
			canceled = intent
			return nil
		}

		now := time.Now().UTC()
		intent.Status = enums.IntentStatusCanceled
		intent.CanceledAt = &now
		if err := repo.Update(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel intent")
		}
		if _, err := s.derived.CancelAllForIntent(ctx, tx, intent.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel derived subscriptions")
		}
		canceled = intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canceled, nil
}

func (s *service) MarkError(ctx context.Context, intentID uuid.UUID, reason string) error {
	if intentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := repo.FindByID(ctx, intentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "intent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
		}
		if intent.Status == enums.IntentStatusCanceled {
			return nil
		}
		intent.Status = enums.IntentStatusError
		intent.LastError = &reason
		if err := repo.Update(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record intent error")
		}
		return nil
	})
}

func (s *service) transition(
	ctx context.Context,
	ownerID, intentID uuid.UUID,
	target enums.IntentStatus,
	check func(*models.SubscriptionIntent) error,
) (*models.SubscriptionIntent, error) {
	var result *models.SubscriptionIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := s.loadOwned(ctx, repo, ownerID, intentID)
		if err != nil {
			return err
		}
		if err := check(intent); err != nil {
			return err
		}
		if intent.Status == target {
			result = intent
			return nil
		}
		intent.Status = target
		if target == enums.IntentStatusActive {
			intent.LastError = nil
		}
		if err := repo.Update(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update intent status")
		}
		result = intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if intentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	intent, err := repo.FindByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent.OwnerID != ownerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "intent not found")
	}
	return intent, nil
}

package agentruns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service coordinates agent run lifecycles.
type Service interface {
	Begin(ctx context.Context, input BeginInput) (*models.AgentRun, error)
	Transition(ctx context.Context, input TransitionInput) (*models.AgentRun, error)
	Get(ctx context.Context, runID uuid.UUID) (*models.AgentRun, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.AgentRun, error)
}

// ServiceParams configure the agent run service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService builds an agent run service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("agent runs repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: params.Repo, tx: params.TransactionRunner}, nil
}

// BeginInput starts a run. RunID is caller-supplied so retried starts land on
// the same row.
type BeginInput struct {
	RunID          uuid.UUID
	IntentID       *uuid.UUID
	SubscriptionID *uuid.UUID
	Input          json.RawMessage
}

// TransitionInput moves a run to its next status. Transitions are forward
// only; a terminal run accepts none.
type TransitionInput struct {
	RunID         uuid.UUID
	Next          enums.AgentRunStatus
	Output        json.RawMessage
	ErrorText     *string
	SessionHandle *string
}

// Begin creates the run, or returns the existing row when the id was already
// used. Callers retrying a start therefore never spawn a second run.
func (s *service) Begin(ctx context.Context, input BeginInput) (*models.AgentRun, error) {
	if input.RunID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run id required")
	}
	if input.IntentID == nil && input.SubscriptionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent or subscription required")
	}

	run := &models.AgentRun{
		ID:             input.RunID,
		IntentID:       input.IntentID,
		SubscriptionID: input.SubscriptionID,
		Status:         enums.AgentRunStatusPlan,
		Input:          input.Input,
	}
	created, err := s.repo.Create(ctx, run)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			existing, findErr := s.repo.FindByID(ctx, input.RunID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing run")
			}
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create run")
	}
	return created, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.AgentRun, error) {
	if input.RunID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run id required")
	}
	if !input.Next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid run status")
	}
	if input.Next == enums.AgentRunStatusFailed && (input.ErrorText == nil || *input.ErrorText == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failed runs require an error")
	}

	var result *models.AgentRun
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		run, err := repo.FindByIDForUpdate(ctx, input.RunID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "run not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load run")
		}
		if !run.Status.CanTransitionTo(input.Next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move run from %s to %s", run.Status, input.Next))
		}

		run.Status = input.Next
		if input.Output != nil {
			run.Output = input.Output
		}
		if input.ErrorText != nil {
			run.ErrorText = input.ErrorText
		}
		if input.SessionHandle != nil {
			run.SessionHandle = input.SessionHandle
		}
		if input.Next.IsTerminal() {
			now := time.Now().UTC()
			run.EndedAt = &now
		}
		if err := repo.Update(ctx, run); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update run")
		}
		result = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, runID uuid.UUID) (*models.AgentRun, error) {
	if runID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run id required")
	}
	run, err := s.repo.FindByID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "run not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load run")
	}
	return run, nil
}

func (s *service) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.AgentRun, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	runs, err := s.repo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list runs")
	}
	return runs, nil
}

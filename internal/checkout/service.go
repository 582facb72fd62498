package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/internal/agentbrowser"
	"github.com/restockhq/restock-backend/internal/agentruns"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

// sessionAcquirer bounds and tracks browser sessions.
type sessionAcquirer interface {
	Acquire(ctx context.Context) (agentbrowser.Session, agentbrowser.ReleaseFunc, error)
}

// Service drives one purchase attempt through the browsing capability.
type Service interface {
	Execute(ctx context.Context, input ExecuteInput) (*Outcome, error)
	CompleteFirstPurchase(ctx context.Context, input FirstPurchaseInput) (*FirstPurchaseResult, error)
	RecordRenewalPurchase(ctx context.Context, input RenewalPurchaseInput) (*RenewalPurchaseResult, error)
}

// ServiceParams configure the checkout orchestrator.
type ServiceParams struct {
	Runs       agentruns.Service
	Sessions   sessionAcquirer
	Capability agentbrowser.Capability
	Fulfill    FulfillmentParams
	Logger     *logger.Logger
}

type service struct {
	runs       agentruns.Service
	sessions   sessionAcquirer
	capability agentbrowser.Capability
	fulfill    FulfillmentParams
	logg       *logger.Logger
}

// NewService builds a checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Runs == nil {
		return nil, fmt.Errorf("agent runs service required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session manager required")
	}
	if params.Capability == nil {
		return nil, fmt.Errorf("browsing capability required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := params.Fulfill.validate(); err != nil {
		return nil, err
	}
	return &service{
		runs:       params.Runs,
		sessions:   params.Sessions,
		capability: params.Capability,
		fulfill:    params.Fulfill,
		logg:       params.Logger,
	}, nil
}

// ExecuteInput is one typed checkout command.
type ExecuteInput struct {
	RunID          uuid.UUID
	Strategy       enums.CheckoutStrategy
	IntentID       *uuid.UUID
	SubscriptionID *uuid.UUID
	ProductRef     string
	PriceCapCents  *int64
	Address        *agentbrowser.Address
	Constraints    json.RawMessage
}

// Outcome reports one attempt. A drive that halts before final payment
// confirmation sets RequiresManualIntervention with the live session handle;
// there is no automatic resume path.
type Outcome struct {
	RunID                      uuid.UUID
	Success                    bool
	RequiresManualIntervention bool
	SessionHandle              *string
	OrderReference             string
	Merchant                   string
	PriceObservedCents         int64
	Receipt                    json.RawMessage
	ErrorText                  string
}

// Execute allocates or reuses the run, then drives exactly one capability
// invocation. It never retries; retry belongs to the renewal sweep's next
// cycle. A failed attempt is reported in the Outcome, not as an error.
func (s *service) Execute(ctx context.Context, input ExecuteInput) (*Outcome, error) {
	if !input.Strategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout strategy")
	}
	if input.ProductRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product reference required")
	}
	// Missing address fails fast: no run row, no side effects.
	if input.Address == nil || input.Address.Line1 == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address required")
	}

	runInput, err := json.Marshal(map[string]any{
		"strategy":    input.Strategy,
		"product_ref": input.ProductRef,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode run input")
	}

	run, err := s.runs.Begin(ctx, agentruns.BeginInput{
		RunID:          input.RunID,
		IntentID:       input.IntentID,
		SubscriptionID: input.SubscriptionID,
		Input:          runInput,
	})
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "run already finished")
	}

	ctx = s.logg.WithRunID(ctx, run.ID.String())

	session, release, err := s.sessions.Acquire(ctx)
	if err != nil {
		return s.failRun(ctx, run.ID, fmt.Sprintf("acquire browser session: %v", err))
	}

	handle := session.Handle
	if _, err := s.runs.Transition(ctx, agentruns.TransitionInput{
		RunID:         run.ID,
		Next:          enums.AgentRunStatusCheckout,
		SessionHandle: &handle,
	}); err != nil {
		release(ctx, false)
		return nil, err
	}

	result, err := s.capability.ExecuteCheckout(ctx, session.Handle, agentbrowser.CheckoutRequest{
		Strategy:      input.Strategy.String(),
		ProductRef:    input.ProductRef,
		PriceCapCents: input.PriceCapCents,
		Address:       input.Address,
		Constraints:   input.Constraints,
	})
	if err != nil {
		release(ctx, false)
		return s.failRun(ctx, run.ID, fmt.Sprintf("checkout execution: %v", err))
	}

	if result.NeedsHuman {
		// Halted before final payment confirmation. The session stays
		// open so a person can finish the flow; the run stays in
		// checkout holding the handle.
		release(ctx, true)
		s.logg.Info(ctx, "checkout halted for manual intervention")
		return &Outcome{
			RunID:                      run.ID,
			Success:                    true,
			RequiresManualIntervention: true,
			SessionHandle:              &handle,
			Merchant:                   result.Merchant,
			PriceObservedCents:         result.PriceCents,
		}, nil
	}

	release(ctx, false)

	if !result.Completed {
		reason := result.Reason
		if reason == "" {
			reason = "checkout did not complete"
		}
		return s.failRun(ctx, run.ID, reason)
	}

	output, err := json.Marshal(result)
	if err != nil {
		return s.failRun(ctx, run.ID, fmt.Sprintf("encode checkout result: %v", err))
	}
	if _, err := s.runs.Transition(ctx, agentruns.TransitionInput{
		RunID:  run.ID,
		Next:   enums.AgentRunStatusDone,
		Output: output,
	}); err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "checkout completed")
	return &Outcome{
		RunID:              run.ID,
		Success:            true,
		OrderReference:     result.ExternalOrderRef,
		Merchant:           result.Merchant,
		PriceObservedCents: result.PriceCents,
		Receipt:            result.Receipt,
	}, nil
}

func (s *service) failRun(ctx context.Context, runID uuid.UUID, reason string) (*Outcome, error) {
	if _, err := s.runs.Transition(ctx, agentruns.TransitionInput{
		RunID:     runID,
		Next:      enums.AgentRunStatusFailed,
		ErrorText: &reason,
	}); err != nil {
		return nil, err
	}
	s.logg.Warn(ctx, "checkout attempt failed: "+reason)
	return &Outcome{RunID: runID, ErrorText: reason}, nil
}

package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/api/middleware"
	"github.com/restockhq/restock-backend/api/responses"
	"github.com/restockhq/restock-backend/internal/agentruns"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

// runStatusRunning is the coarse status reported for any non-terminal run.
// The fine-grained lifecycle value is carried separately as the phase.
const runStatusRunning = "running"

type runResponse struct {
	ID             uuid.UUID            `json:"id"`
	IntentID       *uuid.UUID           `json:"intent_id,omitempty"`
	SubscriptionID *uuid.UUID           `json:"subscription_id,omitempty"`
	Status         string               `json:"status"`
	Phase          enums.AgentRunStatus `json:"phase"`
	Result         json.RawMessage      `json:"result,omitempty"`
	Error          *string              `json:"error,omitempty"`
	SessionHandle  *string              `json:"session_handle,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	EndedAt        *time.Time           `json:"ended_at,omitempty"`
	DurationMs     *int64               `json:"duration_ms,omitempty"`
}

func newRunResponse(run *models.AgentRun) runResponse {
	status := runStatusRunning
	if run.Status.IsTerminal() {
		status = string(run.Status)
	}
	resp := runResponse{
		ID:             run.ID,
		IntentID:       run.IntentID,
		SubscriptionID: run.SubscriptionID,
		Status:         status,
		Phase:          run.Status,
		Result:         run.Output,
		Error:          run.ErrorText,
		SessionHandle:  run.SessionHandle,
		CreatedAt:      run.CreatedAt,
		EndedAt:        run.EndedAt,
	}
	if run.EndedAt != nil {
		ms := run.EndedAt.Sub(run.CreatedAt).Milliseconds()
		resp.DurationMs = &ms
	}
	return resp
}

// RunGet returns one agent run after verifying the caller owns the intent or
// subscription the run was started for.
func RunGet(
	runSvc agentruns.Service,
	intentSvc intents.Service,
	subSvc subscriptions.Service,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runSvc == nil || intentSvc == nil || subSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "runs service unavailable"))
			return
		}
		runID, err := pathUUID(r, "runId", "run id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		run, err := runSvc.Get(r.Context(), runID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ownerID := middleware.OwnerIDFromContext(r.Context())
		owned := false
		if run.SubscriptionID != nil {
			if _, err := subSvc.Get(r.Context(), ownerID, *run.SubscriptionID); err == nil {
				owned = true
			}
		}
		if !owned && run.IntentID != nil {
			if _, err := intentSvc.Get(r.Context(), ownerID, *run.IntentID); err == nil {
				owned = true
			}
		}
		if !owned {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "run not found"))
			return
		}

		responses.WriteSuccess(w, newRunResponse(run))
	}
}

// RunListBySubscription returns the attempt history for a subscription the
// caller owns, newest first.
func RunListBySubscription(
	runSvc agentruns.Service,
	subSvc subscriptions.Service,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runSvc == nil || subSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "runs service unavailable"))
			return
		}
		subscriptionID, err := pathUUID(r, "subscriptionId", "subscription id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := subSvc.Get(r.Context(), middleware.OwnerIDFromContext(r.Context()), subscriptionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		runs, err := runSvc.ListBySubscription(r.Context(), subscriptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]runResponse, 0, len(runs))
		for i := range runs {
			out = append(out, newRunResponse(&runs[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

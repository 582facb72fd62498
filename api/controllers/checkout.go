package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/api/middleware"
	"github.com/restockhq/restock-backend/api/responses"
	"github.com/restockhq/restock-backend/api/validators"
	"github.com/restockhq/restock-backend/internal/addresses"
	"github.com/restockhq/restock-backend/internal/checkout"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

type intentCheckoutRequest struct {
	AddressID *uuid.UUID `json:"address_id"`
	RunID     *uuid.UUID `json:"run_id"`
	Strategy  string     `json:"strategy"`
}

type intentCheckoutResponse struct {
	Outcome  *checkout.Outcome             `json:"outcome"`
	Purchase *checkout.FirstPurchaseResult `json:"purchase,omitempty"`
}

// IntentCheckout drives a single first-purchase attempt for an intent. A
// completed attempt births the subscription ledger entry in the same call. A
// halted attempt returns the live session handle and creates nothing.
func IntentCheckout(
	intentSvc intents.Service,
	addressSvc addresses.Service,
	checkoutSvc checkout.Service,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if intentSvc == nil || addressSvc == nil || checkoutSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout services unavailable"))
			return
		}

		intentID, err := pathUUID(r, "intentId", "intent id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req intentCheckoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		strategy := enums.CheckoutStrategyManualOneOff
		if strings.TrimSpace(req.Strategy) != "" {
			strategy, err = enums.ParseCheckoutStrategy(req.Strategy)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid strategy"))
				return
			}
		}

		ownerID := middleware.OwnerIDFromContext(r.Context())
		intent, err := intentSvc.Get(r.Context(), ownerID, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if intent.Status != enums.IntentStatusActive {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "intent is not active"))
			return
		}

		address, err := addressSvc.ResolveForCheckout(r.Context(), ownerID, req.AddressID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		runID := uuid.New()
		if req.RunID != nil && *req.RunID != uuid.Nil {
			runID = *req.RunID
		}

		outcome, err := checkoutSvc.Execute(r.Context(), checkout.ExecuteInput{
			RunID:         runID,
			Strategy:      strategy,
			IntentID:      &intent.ID,
			ProductRef:    intent.ProductRef,
			PriceCapCents: intent.PriceCapCents,
			Address:       addresses.Wire(address),
			Constraints:   intent.Constraints,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if outcome.RequiresManualIntervention {
			responses.WriteSuccessStatus(w, http.StatusAccepted, intentCheckoutResponse{Outcome: outcome})
			return
		}
		if !outcome.Success {
			responses.WriteSuccess(w, intentCheckoutResponse{Outcome: outcome})
			return
		}

		purchase, err := checkoutSvc.CompleteFirstPurchase(r.Context(), checkout.FirstPurchaseInput{
			Intent:    intent,
			AddressID: &address.ID,
			Outcome:   outcome,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, intentCheckoutResponse{
			Outcome:  outcome,
			Purchase: purchase,
		})
	}
}

package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/api/middleware"
	"github.com/restockhq/restock-backend/api/responses"
	"github.com/restockhq/restock-backend/api/validators"
	"github.com/restockhq/restock-backend/internal/intentextract"
	"github.com/restockhq/restock-backend/internal/intents"
	"github.com/restockhq/restock-backend/pkg/db/models"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

type intentCreateRequest struct {
	Title         string          `json:"title" validate:"required,max=200"`
	ProductRef    string          `json:"product_ref" validate:"required,max=2000"`
	CadenceDays   int             `json:"cadence_days" validate:"required,min=1,max=365"`
	PriceCapCents *int64          `json:"price_cap_cents" validate:"omitempty,min=1"`
	Constraints   json.RawMessage `json:"constraints"`
}

// IntentCreate registers a new purchase intent for the caller.
func IntentCreate(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}

		var req intentCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), intents.CreateInput{
			OwnerID:       middleware.OwnerIDFromContext(r.Context()),
			Title:         validators.SanitizeString(req.Title, 200),
			ProductRef:    validators.SanitizeString(req.ProductRef, 2000),
			CadenceDays:   req.CadenceDays,
			PriceCapCents: req.PriceCapCents,
			Constraints:   req.Constraints,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

// IntentList returns the caller's intents.
func IntentList(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		rows, err := svc.List(r.Context(), middleware.OwnerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// IntentGet returns one intent owned by the caller.
func IntentGet(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		intentID, err := pathUUID(r, "intentId", "intent id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Get(r.Context(), middleware.OwnerIDFromContext(r.Context()), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, intent)
	}
}

type intentUpdateRequest struct {
	Title         *string         `json:"title" validate:"omitempty,max=200"`
	CadenceDays   *int            `json:"cadence_days" validate:"omitempty,min=1,max=365"`
	PriceCapCents *int64          `json:"price_cap_cents" validate:"omitempty,min=1"`
	ClearPriceCap bool            `json:"clear_price_cap"`
	Constraints   json.RawMessage `json:"constraints"`
}

// IntentUpdate edits the mutable intent fields.
func IntentUpdate(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		intentID, err := pathUUID(r, "intentId", "intent id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req intentUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.Update(r.Context(), intents.UpdateInput{
			OwnerID:       middleware.OwnerIDFromContext(r.Context()),
			IntentID:      intentID,
			Title:         req.Title,
			CadenceDays:   req.CadenceDays,
			PriceCapCents: req.PriceCapCents,
			ClearPriceCap: req.ClearPriceCap,
			Constraints:   req.Constraints,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

// IntentPause stops the intent from spawning new purchases.
func IntentPause(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return intentTransition(svc, logg, func(svc intents.Service) transitionFunc { return svc.Pause })
}

// IntentResume reactivates a paused or errored intent.
func IntentResume(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return intentTransition(svc, logg, func(svc intents.Service) transitionFunc { return svc.Resume })
}

// IntentCancel cancels the intent and cascades to derived subscriptions.
func IntentCancel(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return intentTransition(svc, logg, func(svc intents.Service) transitionFunc { return svc.Cancel })
}

type intentExtractRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// IntentExtract turns free text into an intent draft, or a clarification
// question when the text is incomplete. Nothing is persisted.
func IntentExtract(extractor intentextract.Extractor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if extractor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "extractor unavailable"))
			return
		}

		var req intentExtractRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := extractor.Extract(r.Context(), validators.SanitizeString(req.Text, 4000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type transitionFunc func(ctx context.Context, ownerID, intentID uuid.UUID) (*models.SubscriptionIntent, error)

func intentTransition(svc intents.Service, logg *logger.Logger, pick func(intents.Service) transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}
		intentID, err := pathUUID(r, "intentId", "intent id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := pick(svc)(r.Context(), middleware.OwnerIDFromContext(r.Context()), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, intent)
	}
}

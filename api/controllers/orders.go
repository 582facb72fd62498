package controllers

import (
	"net/http"
	"strings"

	"github.com/restockhq/restock-backend/api/middleware"
	"github.com/restockhq/restock-backend/api/responses"
	"github.com/restockhq/restock-backend/api/validators"
	"github.com/restockhq/restock-backend/internal/orders"
	"github.com/restockhq/restock-backend/internal/subscriptions"
	"github.com/restockhq/restock-backend/pkg/db/models"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
	"github.com/restockhq/restock-backend/pkg/pagination"
)

type orderPageResponse struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderListBySubscription returns one cursor page of a subscription's order
// history, newest first.
func OrderListBySubscription(
	ordersRepo orders.Repository,
	subSvc subscriptions.Service,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ordersRepo == nil || subSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
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

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := pagination.ParseCursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		rows, err := ordersRepo.ListPageBySubscription(r.Context(), subscriptionID, cursor, pagination.LimitWithBuffer(limit))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders"))
			return
		}

		resp := orderPageResponse{Orders: rows}
		if len(rows) > limit {
			resp.Orders = rows[:limit]
			last := resp.Orders[limit-1]
			resp.NextCursor = pagination.EncodeCursor(pagination.Cursor{
				CreatedAt: last.CreatedAt,
				ID:        last.ID,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}

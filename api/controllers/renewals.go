package controllers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/restockhq/restock-backend/api/responses"
	"github.com/restockhq/restock-backend/internal/renewals"
	"github.com/restockhq/restock-backend/pkg/config"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

// checkSweepSecret gates the sweep endpoints in every environment; there is
// no development bypass. An unset secret refuses every caller.
func checkSweepSecret(r *http.Request, cfg config.RenewalsConfig) error {
	if cfg.SweepSecret == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "sweep secret not configured")
	}
	provided := strings.TrimSpace(r.URL.Query().Get("secret"))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.SweepSecret)) != 1 {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid sweep secret")
	}
	return nil
}

// RenewalSweep runs one renewal sweep cycle on demand. The caller must present
// the shared sweep secret; a mismatch rejects before any subscription is
// touched.
func RenewalSweep(svc renewals.Service, cfg config.RenewalsConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewals service unavailable"))
			return
		}
		if err := checkSweepSecret(r, cfg); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Sweep(r.Context(), renewals.SweepInput{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// RenewalDue previews the subscriptions the next sweep would pick up.
func RenewalDue(svc renewals.Service, cfg config.RenewalsConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewals service unavailable"))
			return
		}
		if err := checkSweepSecret(r, cfg); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		due, err := svc.PreviewDue(r.Context(), renewals.SweepInput{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, due)
	}
}

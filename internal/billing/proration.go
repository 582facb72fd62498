package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

const monthlyCycleDays = 30

// Prorate normalizes a purchase price at the given cadence onto an
// equivalent 30-day charge. A 14-day cadence bills about 2.14x its unit price
// per cycle; a 90-day cadence about 0.33x.
func Prorate(cadenceDays int, priceCents int64) (int64, error) {
	if cadenceDays <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cadence days must be positive")
	}
	if priceCents < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	occurrences := decimal.NewFromInt(monthlyCycleDays).Div(decimal.NewFromInt(int64(cadenceDays)))
	amount := decimal.NewFromInt(priceCents).Mul(occurrences).Round(0)
	return amount.IntPart(), nil
}

// ChargeDescription phrases the proration regime for an invoice line.
func ChargeDescription(cadenceDays int) string {
	if cadenceDays <= 0 {
		return ""
	}
	if cadenceDays == monthlyCycleDays {
		return "Monthly delivery"
	}
	if cadenceDays < monthlyCycleDays {
		if monthlyCycleDays%cadenceDays == 0 {
			return fmt.Sprintf("%dx per month", monthlyCycleDays/cadenceDays)
		}
		return fmt.Sprintf("~%sx per month", occurrencesApprox(cadenceDays))
	}
	return fmt.Sprintf("partial monthly charge (~%sx per month)", occurrencesApprox(cadenceDays))
}

func occurrencesApprox(cadenceDays int) string {
	occ := decimal.NewFromInt(monthlyCycleDays).Div(decimal.NewFromInt(int64(cadenceDays)))
	return occ.StringFixed(2)
}

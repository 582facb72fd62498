package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/pkg/enums"
)

// Payment ties a processor invoice line to a local purchase event. The unique
// purchase_event_id makes charge appends idempotent under webhook redelivery.
type Payment struct {
	ID                    uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID               uuid.UUID           `gorm:"column:owner_id;type:uuid;not null;index"`
	PurchaseEventID       *uuid.UUID          `gorm:"column:purchase_event_id;type:uuid;uniqueIndex"`
	StripeInvoiceID       *string             `gorm:"column:stripe_invoice_id"`
	StripeInvoiceItemID   *string             `gorm:"column:stripe_invoice_item_id"`
	StripePaymentIntentID *string             `gorm:"column:stripe_payment_intent_id"`
	ProductCostCents      int64               `gorm:"column:product_cost_cents;not null"`
	ServiceFeeCents       int64               `gorm:"column:service_fee_cents;not null;default:0"`
	Currency              string              `gorm:"column:currency;not null;default:'usd'"`
	Description           *string             `gorm:"column:description"`
	Status                enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/pkg/enums"
)

// BillingAccount is the owner's billing vehicle: the recurring processor
// relationship that hosts appended charges.
type BillingAccount struct {
	ID                   uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID              uuid.UUID                  `gorm:"column:owner_id;type:uuid;not null;uniqueIndex"`
	StripeCustomerID     string                     `gorm:"column:stripe_customer_id;not null"`
	StripeSubscriptionID *string                    `gorm:"column:stripe_subscription_id"`
	Status               enums.BillingAccountStatus `gorm:"column:status;not null;default:'incomplete'"`
	CanceledAt           *time.Time                 `gorm:"column:canceled_at"`
	CreatedAt            time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

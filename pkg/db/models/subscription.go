package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/pkg/enums"
)

// Subscription is a confirmed, currently-renewing purchase arrangement. It is
// created only after a first successful purchase; NextRenewalAt is always
// RenewalFrequencyDays ahead of the last successful purchase time.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID              uuid.UUID                `gorm:"column:owner_id;type:uuid;not null;index"`
	ProductRef           string                   `gorm:"column:product_ref;not null"`
	IntentID             *uuid.UUID               `gorm:"column:intent_id;type:uuid;index"`
	RenewalFrequencyDays int                      `gorm:"column:renewal_frequency_days;not null"`
	LastPriceCents       *int64                   `gorm:"column:last_price_cents"`
	AddressID            *uuid.UUID               `gorm:"column:address_id;type:uuid"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	NextRenewalAt        time.Time                `gorm:"column:next_renewal_at;not null;index"`
	LastPurchasedAt      *time.Time               `gorm:"column:last_purchased_at"`
	PausedAt             *time.Time               `gorm:"column:paused_at"`
	PauseReason          *string                  `gorm:"column:pause_reason"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

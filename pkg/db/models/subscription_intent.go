package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/pkg/enums"
)

// SubscriptionIntent is a user's declared desire to recurrently acquire a
// product, prior to any successful purchase.
type SubscriptionIntent struct {
	ID            uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID       uuid.UUID          `gorm:"column:owner_id;type:uuid;not null;index"`
	Title         string             `gorm:"column:title;not null"`
	ProductRef    string             `gorm:"column:product_ref;not null"`
	CadenceDays   int                `gorm:"column:cadence_days;not null"`
	PriceCapCents *int64             `gorm:"column:price_cap_cents"`
	Constraints   json.RawMessage    `gorm:"column:constraints;type:jsonb"`
	Status        enums.IntentStatus `gorm:"column:status;not null;default:'active'"`
	LastError     *string            `gorm:"column:last_error"`
	CanceledAt    *time.Time         `gorm:"column:canceled_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

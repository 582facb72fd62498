package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/pkg/enums"
)

// Order records one fulfilled checkout. The (subscription_id,
// external_order_ref) pair is unique so replayed processor events cannot
// double-count a purchase.
type Order struct {
	ID               uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID   uuid.UUID         `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:idx_orders_sub_ref"`
	AgentRunID       uuid.UUID         `gorm:"column:agent_run_id;type:uuid;not null"`
	Merchant         string            `gorm:"column:merchant"`
	ExternalOrderRef string            `gorm:"column:external_order_ref;not null;uniqueIndex:idx_orders_sub_ref"`
	PriceCents       int64             `gorm:"column:price_cents;not null"`
	Receipt          json.RawMessage   `gorm:"column:receipt;type:jsonb"`
	Status           enums.OrderStatus `gorm:"column:status;not null;default:'processing'"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/restockhq/restock-backend/pkg/enums"
)

// AgentRun tracks one attempt to execute a purchase through the external
// browsing capability. EndedAt is set iff Status is done or failed.
type AgentRun struct {
	ID             uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	IntentID       *uuid.UUID           `gorm:"column:intent_id;type:uuid;index"`
	SubscriptionID *uuid.UUID           `gorm:"column:subscription_id;type:uuid;index"`
	Status         enums.AgentRunStatus `gorm:"column:status;not null;default:'plan'"`
	Input          json.RawMessage      `gorm:"column:input;type:jsonb"`
	Output         json.RawMessage      `gorm:"column:output;type:jsonb"`
	ErrorText      *string              `gorm:"column:error_text"`
	SessionHandle  *string              `gorm:"column:session_handle"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	EndedAt        *time.Time           `gorm:"column:ended_at"`
}

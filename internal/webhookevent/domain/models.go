// Package domain contains the durable idempotency record for inbound
// billing-provider notifications. Providers deliver at least once; the
// unique (provider, event_id) row is the deduplication barrier that keeps
// a redelivered event from mutating state twice.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is one row per externally-issued event id.
type WebhookEvent struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	Provider     string         `gorm:"type:text;not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventID      string         `gorm:"type:text;not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventType    string         `gorm:"type:text;not null"`
	Payload      datatypes.JSON `gorm:"type:jsonb"`
	Processed    bool           `gorm:"not null;default:false"`
	ProcessedAt  *time.Time     `gorm:""`
	ClaimedAt    *time.Time     `gorm:""`
	ErrorMessage *string        `gorm:"type:text"`
	RetryCount   int            `gorm:"not null;default:0"`
	ReceivedAt   time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }

var (
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventInFlight         = errors.New("event_in_flight")
)

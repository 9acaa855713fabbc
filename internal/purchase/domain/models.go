// Package domain contains the append-only purchase ledger. A purchase row
// and the entitlement counter it consumed commit in one transaction;
// partial writes would let a retried request drain "free" content forever.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Purchase is immutable once created.
type Purchase struct {
	ID                 snowflake.ID                     `gorm:"primaryKey"`
	UserID             *snowflake.ID                    `gorm:"index"`
	SessionID          *string                          `gorm:"type:text;index"`
	Type               subscriptiondomain.ItemType      `gorm:"type:text;not null"`
	ItemID             snowflake.ID                     `gorm:"not null;index"`
	ItemTitle          string                           `gorm:"type:text"`
	BasePrice          int64                            `gorm:"not null"`
	PricePaid          int64                            `gorm:"not null"`
	DiscountApplied    *string                          `gorm:"type:text"`
	PaymentMethod      string                           `gorm:"type:text"`
	ExternalPaymentRef string                           `gorm:"type:text"`
	Funding            subscriptiondomain.FundingSource `gorm:"type:text;not null"`
	Metadata           datatypes.JSONMap                `gorm:"type:jsonb"`
	CreatedAt          time.Time                        `gorm:"not null"`
}

// TableName sets the database table name.
func (Purchase) TableName() string { return "purchases" }

// AnalyticsEvent rows ride in the purchase transaction so observability
// stays consistent with the ledger without a separate fire-and-forget call.
type AnalyticsEvent struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	EventType string            `gorm:"type:text;not null;index"`
	UserID    *snowflake.ID     `gorm:"index"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (AnalyticsEvent) TableName() string { return "analytics_events" }

type RecordPurchaseRequest struct {
	UserID             *snowflake.ID                    `json:"user_id,omitempty"`
	SessionID          string                           `json:"session_id,omitempty"`
	Type               subscriptiondomain.ItemType      `json:"type"`
	ItemID             snowflake.ID                     `json:"item_id"`
	ItemTitle          string                           `json:"item_title"`
	BasePrice          int64                            `json:"base_price"`
	PricePaid          int64                            `json:"price_paid"`
	DiscountApplied    string                           `json:"discount_applied,omitempty"`
	PaymentMethod      string                           `json:"payment_method"`
	ExternalPaymentRef string                           `json:"external_payment_ref,omitempty"`
	Funding            subscriptiondomain.FundingSource `json:"funding,omitempty"`
	Metadata           map[string]any                   `json:"metadata,omitempty"`
}

type Service interface {
	// RecordPurchase appends the purchase, consumes the funding
	// allowance, and writes the analytics row as one atomic unit.
	RecordPurchase(ctx context.Context, req RecordPurchaseRequest) (Purchase, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]Purchase, error)
}

type Repository interface {
	InsertPurchase(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	InsertAnalyticsEvent(ctx context.Context, db *gorm.DB, event *AnalyticsEvent) error
	ListByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Purchase, error)
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrMissingOwner   = errors.New("missing_owner")
)

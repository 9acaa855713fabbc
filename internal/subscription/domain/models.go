// Package domain contains persistence models and contracts for the
// subscription lifecycle and its monthly entitlement counters.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// ItemType identifies the kind of content an entitlement applies to.
type ItemType string

const (
	ItemTypeQuiz    ItemType = "quiz"
	ItemTypeArticle ItemType = "article"
)

// Subscription captures a user's billing agreement, one row per user.
// Rows are never hard-deleted; cancellation is a status transition.
// Counters only grow within a billing cycle and are zeroed exactly once
// per calendar-month boundary by the lazy cycle reset.
type Subscription struct {
	ID     snowflake.ID       `gorm:"primaryKey"`
	UserID snowflake.ID       `gorm:"not null;uniqueIndex"`
	Plan   string             `gorm:"type:text;not null"`
	Status SubscriptionStatus `gorm:"type:text;not null;index"`
	Email  string             `gorm:"type:text"`

	ExternalCustomerRef     string `gorm:"type:text;index"`
	ExternalSubscriptionRef string `gorm:"type:text;index"`
	ExternalPriceRef        string `gorm:"type:text"`

	StartDate          time.Time  `gorm:"not null"`
	EndDate            *time.Time `gorm:""`
	CurrentPeriodStart time.Time  `gorm:"not null"`
	CurrentPeriodEnd   time.Time  `gorm:"not null"`
	CancelAtPeriodEnd  bool       `gorm:"not null;default:false"`
	CanceledAt         *time.Time `gorm:""`

	PremiumArticlesUsed    int       `gorm:"not null;default:0"`
	PremiumArticlesLimit   int       `gorm:"not null;default:0"`
	FreeQuizzesUsed        int       `gorm:"not null;default:0"`
	FreeQuizzesLimit       int       `gorm:"not null;default:0"`
	FreeQuizValueCap       int64     `gorm:"not null;default:0"`
	DiscountedQuizzesUsed  int       `gorm:"not null;default:0"`
	DiscountedQuizzesLimit int       `gorm:"not null;default:0"`
	LastCycleReset         time.Time `gorm:"not null"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null"`
	UpdatedAt time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsActive reports whether entitlements are currently available.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}

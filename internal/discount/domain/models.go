// Package domain contains the promotional-code registry model. Codes are
// time- and usage-bounded; redemption is a single conditional increment so
// concurrent redemptions can never exceed max_uses.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ManualDiscount struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	Code            string        `gorm:"type:text;not null;uniqueIndex"`
	Description     string        `gorm:"type:text"`
	DiscountPercent int           `gorm:"not null"`
	ItemType        string        `gorm:"type:text;not null"`
	ItemID          *snowflake.ID `gorm:""`
	ValidFrom       time.Time     `gorm:"not null"`
	ValidUntil      time.Time     `gorm:"not null"`
	MaxUses         int           `gorm:"not null"`
	CurrentUses     int           `gorm:"not null;default:0"`
	IsActive        bool          `gorm:"not null;default:true"`
	CreatedAt       time.Time     `gorm:"not null"`
	UpdatedAt       time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (ManualDiscount) TableName() string { return "manual_discounts" }

type CreateDiscountRequest struct {
	Code            string        `json:"code"`
	Description     string        `json:"description,omitempty"`
	DiscountPercent int           `json:"discount_percent"`
	ItemType        string        `json:"item_type"`
	ItemID          *snowflake.ID `json:"item_id,omitempty"`
	ValidFrom       time.Time     `json:"valid_from"`
	ValidUntil      time.Time     `json:"valid_until"`
	MaxUses         int           `json:"max_uses"`
}

// AppliedDiscount is the successful redemption result.
type AppliedDiscount struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
}

type Service interface {
	// Apply validates and redeems in one atomic step. An invalid,
	// expired, or exhausted code yields (nil, nil): callers fall back to
	// full price rather than surface an error.
	Apply(ctx context.Context, code string) (*AppliedDiscount, error)
	Create(ctx context.Context, req CreateDiscountRequest) (ManualDiscount, error)
	Deactivate(ctx context.Context, code string) error
	GetByCode(ctx context.Context, code string) (*ManualDiscount, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, discount *ManualDiscount) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*ManualDiscount, error)
	// Redeem increments current_uses only while the code is active,
	// inside its validity window, and under max_uses.
	Redeem(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error)
	Deactivate(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error)
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("discount_not_found")
	ErrCodeExists     = errors.New("discount_code_exists")
)

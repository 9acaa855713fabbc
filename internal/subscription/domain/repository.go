package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert writes the row keyed by user_id. A new checkout for a user
	// whose previous subscription was cancelled replaces the old row's
	// contents instead of creating a second row.
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	FindByExternalSubscriptionRef(ctx context.Context, db *gorm.DB, ref string) (*Subscription, error)

	// ResetCycle zeroes the entitlement counters and advances the cycle
	// bookkeeping, guarded by a compare-and-swap on last_cycle_reset so
	// two concurrent lazy resets apply at most once.
	ResetCycle(ctx context.Context, db *gorm.DB, userID snowflake.ID, prevReset, now, periodStart, periodEnd time.Time) (bool, error)

	// The increment methods are conditional single-statement updates:
	// the guard and the increment commit together or not at all.
	IncrementFreeQuizzes(ctx context.Context, db *gorm.DB, userID snowflake.ID, basePrice int64) (bool, error)
	IncrementDiscountedQuizzes(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)
	IncrementPremiumArticles(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)
}

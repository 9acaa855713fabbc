package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ActivateRequest creates (or replaces) a user's subscription after a
// successful provider checkout.
type ActivateRequest struct {
	UserID                  snowflake.ID
	Plan                    string
	Email                   string
	ExternalCustomerRef     string
	ExternalSubscriptionRef string
	ExternalPriceRef        string
	PeriodStart             time.Time
	PeriodEnd               time.Time
}

// ProviderUpdate carries the provider-reported state from a
// subscription-updated notification.
type ProviderUpdate struct {
	ExternalSubscriptionRef string
	ProviderStatus          string
	PeriodStart             time.Time
	PeriodEnd               time.Time
	CancelAtPeriodEnd       bool
	CanceledAt              *time.Time
}

// UpdateOutcome reports the applied transition. Reactivated is set when a
// pending cancellation was revoked and the subscription returned to
// active, which triggers the reactivation notification.
type UpdateOutcome struct {
	Subscription Subscription
	Reactivated  bool
}

// FundingSource designates which allowance counter a quoted price draws
// on; consumption at purchase time must increment the matching counter.
type FundingSource string

const (
	FundingFreeQuiz       FundingSource = "free_quiz"
	FundingDiscountedQuiz FundingSource = "discounted_quiz"
	FundingPremiumArticle FundingSource = "premium_article"
	FundingNone           FundingSource = "none"
)

// PriceQuote is a non-mutating price computation. Counters move only at
// consumption time so an unacted quote never costs an allowance slot.
type PriceQuote struct {
	Price           int64         `json:"price"`
	Funding         FundingSource `json:"funding"`
	DiscountPercent int           `json:"discount_percent,omitempty"`
}

type Service interface {
	Activate(ctx context.Context, req ActivateRequest) (Subscription, error)
	ApplyProviderUpdate(ctx context.Context, req ProviderUpdate) (UpdateOutcome, error)
	MarkCancelled(ctx context.Context, externalSubscriptionRef string) (Subscription, error)
	MarkPastDue(ctx context.Context, externalSubscriptionRef string) (Subscription, error)
	Cancel(ctx context.Context, userID snowflake.ID, immediate bool) (Subscription, error)

	// GetByUserID is a pure read: no cycle reset side effect.
	GetByUserID(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	// GetByExternalRef resolves the provider's subscription reference to
	// the local row. Pure read, nil when no row matches.
	GetByExternalRef(ctx context.Context, externalSubscriptionRef string) (*Subscription, error)
	// GetActiveWithCycleReset is the read used by every entitlement path.
	// It performs the lazy calendar-cycle reset atomically before
	// returning, so callers always observe fresh-cycle counters.
	GetActiveWithCycleReset(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	QuotePrice(ctx context.Context, userID snowflake.ID, itemType ItemType, basePrice int64) (*PriceQuote, error)
	ConsumeFreeQuiz(ctx context.Context, userID snowflake.ID, basePrice int64) error
	ConsumeDiscountedQuiz(ctx context.Context, userID snowflake.ID) error
	ConsumePremiumArticle(ctx context.Context, userID snowflake.ID) error
}

var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidItemType      = errors.New("invalid_item_type")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrAllowanceExhausted   = errors.New("allowance_exhausted")
	ErrValueCapExceeded     = errors.New("value_cap_exceeded")
)

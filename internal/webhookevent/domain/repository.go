package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the ledger row, reporting false when a row for the
	// same (provider, event_id) already exists.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	// Claim takes exclusive ownership of an unprocessed row so two
	// deliveries of the same event id never both reach a handler. It
	// returns ErrEventAlreadyProcessed for rows that are done and
	// ErrEventInFlight while another delivery holds the claim; claims
	// older than staleBefore are treated as abandoned and retaken.
	Claim(ctx context.Context, db *gorm.DB, provider, eventID string, now, staleBefore time.Time) (*WebhookEvent, error)
	Find(ctx context.Context, db *gorm.DB, provider, eventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, errorMessage string) error
}

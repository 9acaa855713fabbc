package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/webhookevent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, provider, eventID string, now, staleBefore time.Time) (*domain.WebhookEvent, error) {
	res := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Where("processed = ?", false).
		Where("claimed_at IS NULL OR claimed_at <= ?", staleBefore).
		Update("claimed_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.Find(ctx, db, provider, eventID)
	}

	stored, err := r.Find(ctx, db, provider, eventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrInvalidEvent
	}
	if stored.Processed {
		return nil, domain.ErrEventAlreadyProcessed
	}
	return nil, domain.ErrEventInFlight
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, provider, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": processedAt,
			"claimed_at":   nil,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, errorMessage string) error {
	return db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": errorMessage,
			"claimed_at":    nil,
		}).Error
}

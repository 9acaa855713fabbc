package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/purchase/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPurchase(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) error {
	return db.WithContext(ctx).Create(purchase).Error
}

func (r *repo) InsertAnalyticsEvent(ctx context.Context, db *gorm.DB, event *domain.AnalyticsEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) ListByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

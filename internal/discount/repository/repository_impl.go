package repository

import (
	"context"
	"time"

	"github.com/inkwellhq/inkwell/internal/discount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, discount *domain.ManualDiscount) error {
	return db.WithContext(ctx).Create(discount).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.ManualDiscount, error) {
	var item domain.ManualDiscount
	err := db.WithContext(ctx).
		Where("code = ?", code).
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

func (r *repo) Redeem(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ManualDiscount{}).
		Where("code = ? AND is_active = ?", code, true).
		Where("valid_from <= ? AND valid_until >= ?", now, now).
		Where("current_uses < max_uses").
		Updates(map[string]any{
			"current_uses": gorm.Expr("current_uses + 1"),
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ManualDiscount{}).
		Where("code = ?", code).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

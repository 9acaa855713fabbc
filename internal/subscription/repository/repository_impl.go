package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan", "status", "email",
				"external_customer_ref", "external_subscription_ref", "external_price_ref",
				"start_date", "end_date", "current_period_start", "current_period_end",
				"cancel_at_period_end", "canceled_at",
				"premium_articles_used", "premium_articles_limit",
				"free_quizzes_used", "free_quizzes_limit", "free_quiz_value_cap",
				"discounted_quizzes_used", "discounted_quizzes_limit",
				"last_cycle_reset", "metadata", "updated_at",
			}),
		}).
		Create(sub).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Save(sub).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByExternalSubscriptionRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("external_subscription_ref = ?", ref).
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) ResetCycle(ctx context.Context, db *gorm.DB, userID snowflake.ID, prevReset, now, periodStart, periodEnd time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ? AND last_cycle_reset = ?", userID, prevReset).
		Updates(map[string]any{
			"premium_articles_used":   0,
			"free_quizzes_used":       0,
			"discounted_quizzes_used": 0,
			"last_cycle_reset":        now,
			"current_period_start":    periodStart,
			"current_period_end":      periodEnd,
			"updated_at":              now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementFreeQuizzes(ctx context.Context, db *gorm.DB, userID snowflake.ID, basePrice int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ? AND status = ?", userID, domain.SubscriptionStatusActive).
		Where("free_quizzes_used < free_quizzes_limit").
		Where("free_quiz_value_cap >= ?", basePrice).
		Update("free_quizzes_used", gorm.Expr("free_quizzes_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementDiscountedQuizzes(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ? AND status = ?", userID, domain.SubscriptionStatusActive).
		Where("discounted_quizzes_used < discounted_quizzes_limit").
		Update("discounted_quizzes_used", gorm.Expr("discounted_quizzes_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementPremiumArticles(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ? AND status = ?", userID, domain.SubscriptionStatusActive).
		Where("premium_articles_used < premium_articles_limit").
		Update("premium_articles_used", gorm.Expr("premium_articles_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

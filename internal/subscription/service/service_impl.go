package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/config"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	"github.com/inkwellhq/inkwell/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Clock   clock.Clock
	Plans   *config.PlanConfigHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	clock   clock.Clock
	plans   *config.PlanConfigHolder
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		plans:   p.Plans,
		metrics: p.Metrics,
	}
}

func (s *Service) Activate(ctx context.Context, req domain.ActivateRequest) (domain.Subscription, error) {
	if req.UserID == 0 {
		return domain.Subscription{}, domain.ErrInvalidRequest
	}
	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if plan == "" {
		return domain.Subscription{}, domain.ErrInvalidRequest
	}

	now := s.clock.Now().UTC()
	periodStart, periodEnd := req.PeriodStart, req.PeriodEnd
	if periodStart.IsZero() || periodEnd.IsZero() {
		periodStart, periodEnd = monthBounds(now)
	}

	ent := s.plans.Plan(plan)
	sub := &domain.Subscription{
		ID:     s.genID.Generate(),
		UserID: req.UserID,
		Plan:   plan,
		Status: domain.SubscriptionStatusActive,
		Email:  strings.TrimSpace(req.Email),

		ExternalCustomerRef:     req.ExternalCustomerRef,
		ExternalSubscriptionRef: req.ExternalSubscriptionRef,
		ExternalPriceRef:        req.ExternalPriceRef,

		StartDate:          now,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,

		PremiumArticlesLimit:   ent.PremiumArticlesLimit,
		FreeQuizzesLimit:       ent.FreeQuizzesLimit,
		FreeQuizValueCap:       ent.FreeQuizValueCap,
		DiscountedQuizzesLimit: ent.DiscountedQuizzesLimit,
		LastCycleReset:         now,

		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Upsert(ctx, s.db, sub); err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription activated",
		zap.Int64("user_id", int64(req.UserID)),
		zap.String("plan", plan),
	)
	return *sub, nil
}

func (s *Service) ApplyProviderUpdate(ctx context.Context, req domain.ProviderUpdate) (domain.UpdateOutcome, error) {
	ref := strings.TrimSpace(req.ExternalSubscriptionRef)
	if ref == "" {
		return domain.UpdateOutcome{}, domain.ErrInvalidRequest
	}

	var outcome domain.UpdateOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByExternalSubscriptionRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}

		now := s.clock.Now().UTC()
		newStatus := normalizeProviderStatus(req.ProviderStatus, sub.Status)
		outcome.Reactivated = sub.CancelAtPeriodEnd &&
			!req.CancelAtPeriodEnd &&
			newStatus == domain.SubscriptionStatusActive

		sub.Status = newStatus
		sub.CancelAtPeriodEnd = req.CancelAtPeriodEnd
		if req.CanceledAt != nil {
			sub.CanceledAt = req.CanceledAt
		}
		if !req.PeriodStart.IsZero() {
			sub.CurrentPeriodStart = req.PeriodStart
		}
		if !req.PeriodEnd.IsZero() {
			sub.CurrentPeriodEnd = req.PeriodEnd
		}
		if req.CancelAtPeriodEnd {
			end := sub.CurrentPeriodEnd
			sub.EndDate = &end
		} else if newStatus != domain.SubscriptionStatusCancelled {
			sub.EndDate = nil
		}
		if newStatus == domain.SubscriptionStatusCancelled {
			if sub.CanceledAt == nil {
				sub.CanceledAt = &now
			}
			if sub.EndDate == nil {
				sub.EndDate = &now
			}
		}
		sub.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		outcome.Subscription = *sub
		return nil
	})
	if err != nil {
		return domain.UpdateOutcome{}, err
	}

	if outcome.Reactivated {
		s.log.Info("subscription reactivated",
			zap.Int64("user_id", int64(outcome.Subscription.UserID)),
		)
	}
	return outcome, nil
}

func (s *Service) MarkCancelled(ctx context.Context, externalSubscriptionRef string) (domain.Subscription, error) {
	return s.forceStatus(ctx, externalSubscriptionRef, domain.SubscriptionStatusCancelled)
}

func (s *Service) MarkPastDue(ctx context.Context, externalSubscriptionRef string) (domain.Subscription, error) {
	return s.forceStatus(ctx, externalSubscriptionRef, domain.SubscriptionStatusPastDue)
}

func (s *Service) forceStatus(ctx context.Context, ref string, status domain.SubscriptionStatus) (domain.Subscription, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Subscription{}, domain.ErrInvalidRequest
	}

	var updated domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByExternalSubscriptionRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}

		now := s.clock.Now().UTC()
		sub.Status = status
		if status == domain.SubscriptionStatusCancelled {
			if sub.CanceledAt == nil {
				sub.CanceledAt = &now
			}
			sub.EndDate = &now
		}
		sub.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return updated, nil
}

// Cancel implements two-phase cancellation: soft keeps access until the
// current period closes, immediate revokes access now.
func (s *Service) Cancel(ctx context.Context, userID snowflake.ID, immediate bool) (domain.Subscription, error) {
	if userID == 0 {
		return domain.Subscription{}, domain.ErrInvalidRequest
	}

	var updated domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}

		now := s.clock.Now().UTC()
		if immediate {
			sub.Status = domain.SubscriptionStatusCancelled
			sub.CanceledAt = &now
			sub.EndDate = &now
		} else {
			sub.CancelAtPeriodEnd = true
			end := sub.CurrentPeriodEnd
			sub.EndDate = &end
		}
		sub.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return updated, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	return s.repo.FindByUserID(ctx, s.db, userID)
}

func (s *Service) GetByExternalRef(ctx context.Context, externalSubscriptionRef string) (*domain.Subscription, error) {
	ref := strings.TrimSpace(externalSubscriptionRef)
	if ref == "" {
		return nil, domain.ErrInvalidRequest
	}
	return s.repo.FindByExternalSubscriptionRef(ctx, s.db, ref)
}

func (s *Service) GetActiveWithCycleReset(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || !sub.IsActive() {
		return nil, domain.ErrNoActiveSubscription
	}

	now := s.clock.Now().UTC()
	if !needsCycleReset(sub.LastCycleReset, now) {
		return sub, nil
	}

	// The reset and the re-read share one transaction; the CAS on
	// last_cycle_reset makes sure concurrent readers apply it once.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		periodStart, periodEnd := monthBounds(now)
		if _, err := s.repo.ResetCycle(ctx, tx, userID, sub.LastCycleReset, now, periodStart, periodEnd); err != nil {
			return err
		}
		fresh, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return domain.ErrSubscriptionNotFound
		}
		sub = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) QuotePrice(ctx context.Context, userID snowflake.ID, itemType domain.ItemType, basePrice int64) (*domain.PriceQuote, error) {
	if basePrice < 0 {
		return nil, domain.ErrInvalidRequest
	}

	sub, err := s.GetActiveWithCycleReset(ctx, userID)
	if errors.Is(err, domain.ErrNoActiveSubscription) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ent := s.plans.Plan(sub.Plan)
	switch itemType {
	case domain.ItemTypeQuiz:
		if sub.FreeQuizzesUsed < sub.FreeQuizzesLimit && basePrice <= sub.FreeQuizValueCap {
			return &domain.PriceQuote{Price: 0, Funding: domain.FundingFreeQuiz}, nil
		}
		if sub.DiscountedQuizzesUsed < sub.DiscountedQuizzesLimit {
			return &domain.PriceQuote{
				Price:           discountedPrice(basePrice, ent.QuizDiscountPercent),
				Funding:         domain.FundingDiscountedQuiz,
				DiscountPercent: ent.QuizDiscountPercent,
			}, nil
		}
		return &domain.PriceQuote{Price: basePrice, Funding: domain.FundingNone}, nil
	case domain.ItemTypeArticle:
		if sub.PremiumArticlesUsed < sub.PremiumArticlesLimit {
			return &domain.PriceQuote{Price: 0, Funding: domain.FundingPremiumArticle}, nil
		}
		return &domain.PriceQuote{
			Price:           discountedPrice(basePrice, ent.ArticleDiscountPercent),
			Funding:         domain.FundingNone,
			DiscountPercent: ent.ArticleDiscountPercent,
		}, nil
	default:
		return nil, domain.ErrInvalidItemType
	}
}

func (s *Service) ConsumeFreeQuiz(ctx context.Context, userID snowflake.ID, basePrice int64) error {
	sub, err := s.GetActiveWithCycleReset(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.repo.IncrementFreeQuizzes(ctx, s.db, userID, basePrice)
	if err != nil {
		return err
	}
	if !ok {
		if basePrice > sub.FreeQuizValueCap {
			return domain.ErrValueCapExceeded
		}
		return domain.ErrAllowanceExhausted
	}
	s.metrics.RecordEntitlementConsumed(string(domain.FundingFreeQuiz))
	return nil
}

func (s *Service) ConsumeDiscountedQuiz(ctx context.Context, userID snowflake.ID) error {
	if _, err := s.GetActiveWithCycleReset(ctx, userID); err != nil {
		return err
	}

	ok, err := s.repo.IncrementDiscountedQuizzes(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAllowanceExhausted
	}
	s.metrics.RecordEntitlementConsumed(string(domain.FundingDiscountedQuiz))
	return nil
}

func (s *Service) ConsumePremiumArticle(ctx context.Context, userID snowflake.ID) error {
	if _, err := s.GetActiveWithCycleReset(ctx, userID); err != nil {
		return err
	}

	ok, err := s.repo.IncrementPremiumArticles(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAllowanceExhausted
	}
	s.metrics.RecordEntitlementConsumed(string(domain.FundingPremiumArticle))
	return nil
}

func discountedPrice(basePrice int64, percent int) int64 {
	if percent <= 0 {
		return basePrice
	}
	if percent >= 100 {
		return 0
	}
	return basePrice * int64(100-percent) / 100
}

// needsCycleReset reports whether lastReset falls in an earlier calendar
// month than now. The billing anchor is calendar-month aligned.
func needsCycleReset(lastReset, now time.Time) bool {
	lastReset, now = lastReset.UTC(), now.UTC()
	if lastReset.Year() != now.Year() {
		return lastReset.Year() < now.Year()
	}
	return lastReset.Month() < now.Month()
}

func monthBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func normalizeProviderStatus(raw string, current domain.SubscriptionStatus) domain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return domain.SubscriptionStatusActive
	case "past_due", "unpaid", "incomplete":
		return domain.SubscriptionStatusPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return domain.SubscriptionStatusCancelled
	default:
		return current
	}
}

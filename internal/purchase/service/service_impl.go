package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/clock"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	"github.com/inkwellhq/inkwell/internal/purchase/domain"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	SubRepo subscriptiondomain.Repository
	SubSvc  subscriptiondomain.Service
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	subRepo subscriptiondomain.Repository
	subSvc  subscriptiondomain.Service
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("purchase.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		subSvc:  p.SubSvc,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) RecordPurchase(ctx context.Context, req domain.RecordPurchaseRequest) (domain.Purchase, error) {
	if err := validate(req); err != nil {
		return domain.Purchase{}, err
	}

	funding := req.Funding
	if funding == "" {
		funding = subscriptiondomain.FundingNone
	}

	// Refresh the billing cycle before consuming, so a purchase straddling
	// a month boundary draws on the new cycle's counters.
	if funding != subscriptiondomain.FundingNone {
		if _, err := s.subSvc.GetActiveWithCycleReset(ctx, *req.UserID); err != nil {
			return domain.Purchase{}, err
		}
	}

	now := s.clock.Now().UTC()
	purchase := &domain.Purchase{
		ID:                 s.genID.Generate(),
		UserID:             req.UserID,
		Type:               req.Type,
		ItemID:             req.ItemID,
		ItemTitle:          strings.TrimSpace(req.ItemTitle),
		BasePrice:          req.BasePrice,
		PricePaid:          req.PricePaid,
		PaymentMethod:      strings.TrimSpace(req.PaymentMethod),
		ExternalPaymentRef: strings.TrimSpace(req.ExternalPaymentRef),
		Funding:            funding,
		Metadata:           datatypes.JSONMap(req.Metadata),
		CreatedAt:          now,
	}
	if sessionID := strings.TrimSpace(req.SessionID); sessionID != "" {
		purchase.SessionID = &sessionID
	}
	if discount := strings.TrimSpace(req.DiscountApplied); discount != "" {
		purchase.DiscountApplied = &discount
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPurchase(ctx, tx, purchase); err != nil {
			return err
		}

		if err := s.consumeFunding(ctx, tx, funding, req); err != nil {
			return err
		}

		analytics := &domain.AnalyticsEvent{
			ID:        s.genID.Generate(),
			EventType: "purchase_recorded",
			UserID:    req.UserID,
			Payload: datatypes.JSONMap{
				"purchase_id": purchase.ID.String(),
				"item_type":   string(req.Type),
				"item_id":     req.ItemID.String(),
				"base_price":  req.BasePrice,
				"price_paid":  req.PricePaid,
				"funding":     string(funding),
			},
			CreatedAt: now,
		}
		return s.repo.InsertAnalyticsEvent(ctx, tx, analytics)
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.metrics.RecordPurchase(string(req.Type))
	return *purchase, nil
}

func (s *Service) consumeFunding(ctx context.Context, tx *gorm.DB, funding subscriptiondomain.FundingSource, req domain.RecordPurchaseRequest) error {
	switch funding {
	case subscriptiondomain.FundingNone:
		return nil
	case subscriptiondomain.FundingFreeQuiz:
		ok, err := s.subRepo.IncrementFreeQuizzes(ctx, tx, *req.UserID, req.BasePrice)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrAllowanceExhausted
		}
	case subscriptiondomain.FundingDiscountedQuiz:
		ok, err := s.subRepo.IncrementDiscountedQuizzes(ctx, tx, *req.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrAllowanceExhausted
		}
	case subscriptiondomain.FundingPremiumArticle:
		ok, err := s.subRepo.IncrementPremiumArticles(ctx, tx, *req.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrAllowanceExhausted
		}
	default:
		return domain.ErrInvalidRequest
	}
	s.metrics.RecordEntitlementConsumed(string(funding))
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.Purchase, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	return s.repo.ListByUserID(ctx, s.db, userID)
}

func validate(req domain.RecordPurchaseRequest) error {
	hasUser := req.UserID != nil && *req.UserID != 0
	hasSession := strings.TrimSpace(req.SessionID) != ""
	if !hasUser && !hasSession {
		return domain.ErrMissingOwner
	}
	switch req.Type {
	case subscriptiondomain.ItemTypeQuiz, subscriptiondomain.ItemTypeArticle:
	default:
		return domain.ErrInvalidRequest
	}
	if req.ItemID == 0 || req.BasePrice < 0 || req.PricePaid < 0 {
		return domain.ErrInvalidRequest
	}
	if req.Funding != "" && req.Funding != subscriptiondomain.FundingNone && !hasUser {
		// Allowances belong to subscriptions, and subscriptions to users.
		return domain.ErrMissingOwner
	}
	return nil
}

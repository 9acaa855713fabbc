package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/discount/domain"
	"github.com/inkwellhq/inkwell/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("discount.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Apply(ctx context.Context, code string) (*domain.AppliedDiscount, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, nil
	}

	now := s.clock.Now().UTC()
	var applied *domain.AppliedDiscount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.Redeem(ctx, tx, code, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		item, err := s.repo.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		applied = &domain.AppliedDiscount{
			Code:            item.Code,
			DiscountPercent: item.DiscountPercent,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateDiscountRequest) (domain.ManualDiscount, error) {
	code := normalizeCode(req.Code)
	if code == "" ||
		req.DiscountPercent <= 0 || req.DiscountPercent > 100 ||
		req.MaxUses <= 0 ||
		req.ValidFrom.IsZero() || req.ValidUntil.IsZero() ||
		!req.ValidUntil.After(req.ValidFrom) {
		return domain.ManualDiscount{}, domain.ErrInvalidRequest
	}
	switch strings.ToLower(strings.TrimSpace(req.ItemType)) {
	case "quiz", "article":
	default:
		return domain.ManualDiscount{}, domain.ErrInvalidRequest
	}

	now := s.clock.Now().UTC()
	item := &domain.ManualDiscount{
		ID:              s.genID.Generate(),
		Code:            code,
		Description:     strings.TrimSpace(req.Description),
		DiscountPercent: req.DiscountPercent,
		ItemType:        strings.ToLower(strings.TrimSpace(req.ItemType)),
		ItemID:          req.ItemID,
		ValidFrom:       req.ValidFrom.UTC(),
		ValidUntil:      req.ValidUntil.UTC(),
		MaxUses:         req.MaxUses,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ManualDiscount{}, domain.ErrCodeExists
		}
		return domain.ManualDiscount{}, err
	}
	return *item, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return domain.ErrInvalidRequest
	}

	ok, err := s.repo.Deactivate(ctx, s.db, code, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*domain.ManualDiscount, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidRequest
	}
	return s.repo.FindByCode(ctx, s.db, code)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

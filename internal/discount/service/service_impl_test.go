package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/discount/domain"
	"github.com/inkwellhq/inkwell/internal/discount/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDiscounts(t *testing.T, clk clock.Clock) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.ManualDiscount{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, conn
}

func validRequest(code string) domain.CreateDiscountRequest {
	return domain.CreateDiscountRequest{
		Code:            code,
		DiscountPercent: 25,
		ItemType:        "quiz",
		ValidFrom:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:      time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		MaxUses:         3,
	}
}

func TestApplyStopsAtMaxUses(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	_, err := svc.Create(ctx, validRequest("SPRING25"))
	require.NoError(t, err)

	redeemed := 0
	for i := 0; i < 5; i++ {
		applied, err := svc.Apply(ctx, "spring25")
		require.NoError(t, err)
		if applied != nil {
			redeemed++
			require.Equal(t, "SPRING25", applied.Code)
			require.Equal(t, 25, applied.DiscountPercent)
		}
	}
	require.Equal(t, 3, redeemed)

	item, err := svc.GetByCode(ctx, "SPRING25")
	require.NoError(t, err)
	require.Equal(t, 3, item.CurrentUses)
}

func TestApplyConcurrentNeverExceedsMaxUses(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	_, err := svc.Create(ctx, validRequest("SPRING25"))
	require.NoError(t, err)

	// Five simultaneous redemptions race for three uses. The conditional
	// UPDATE hands out exactly max_uses grants no matter the interleaving.
	const callers = 5
	results := make([]*domain.AppliedDiscount, callers)
	errs := make([]error, callers)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Apply(ctx, "SPRING25")
		}(i)
	}
	close(start)
	wg.Wait()

	granted := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if results[i] != nil {
			granted++
			require.Equal(t, 25, results[i].DiscountPercent)
		}
	}
	require.Equal(t, 3, granted)

	item, err := svc.GetByCode(ctx, "SPRING25")
	require.NoError(t, err)
	require.Equal(t, 3, item.CurrentUses)
}

func TestApplyOutsideValidityWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	_, err := svc.Create(ctx, validRequest("SPRING25"))
	require.NoError(t, err)

	// Before the window opens.
	applied, err := svc.Apply(ctx, "SPRING25")
	require.NoError(t, err)
	require.Nil(t, applied)

	// After it closes.
	clk.Set(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	applied, err = svc.Apply(ctx, "SPRING25")
	require.NoError(t, err)
	require.Nil(t, applied)

	// Inside the window.
	clk.Set(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	applied, err = svc.Apply(ctx, "SPRING25")
	require.NoError(t, err)
	require.NotNil(t, applied)
}

func TestApplyUnknownCode(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	applied, err := svc.Apply(context.Background(), "NOPE")
	require.NoError(t, err)
	require.Nil(t, applied)
}

func TestApplyDeactivatedCode(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	_, err := svc.Create(ctx, validRequest("SPRING25"))
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, "SPRING25"))

	applied, err := svc.Apply(ctx, "SPRING25")
	require.NoError(t, err)
	require.Nil(t, applied)
}

func TestCreateDuplicateCode(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	_, err := svc.Create(ctx, validRequest("SPRING25"))
	require.NoError(t, err)

	// Codes are case-insensitive.
	_, err = svc.Create(ctx, validRequest("spring25"))
	require.ErrorIs(t, err, domain.ErrCodeExists)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	tests := []struct {
		name   string
		mutate func(*domain.CreateDiscountRequest)
	}{
		{"empty code", func(r *domain.CreateDiscountRequest) { r.Code = " " }},
		{"zero percent", func(r *domain.CreateDiscountRequest) { r.DiscountPercent = 0 }},
		{"over 100 percent", func(r *domain.CreateDiscountRequest) { r.DiscountPercent = 120 }},
		{"zero max uses", func(r *domain.CreateDiscountRequest) { r.MaxUses = 0 }},
		{"inverted window", func(r *domain.CreateDiscountRequest) {
			r.ValidFrom, r.ValidUntil = r.ValidUntil, r.ValidFrom
		}},
		{"bad item type", func(r *domain.CreateDiscountRequest) { r.ItemType = "video" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest("VALID10")
			tc.mutate(&req)
			_, err := svc.Create(ctx, req)
			require.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
}

func TestDeactivateUnknownCode(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupDiscounts(t, clk)

	err := svc.Deactivate(context.Background(), "NOPE")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

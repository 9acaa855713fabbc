package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/inkwellhq/inkwell/internal/webhookevent/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (domain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.WebhookEvent{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	return Provide(), conn, node
}

func TestInsertDeduplicatesOnProviderEventID(t *testing.T) {
	ctx := context.Background()
	repo, conn, node := setupRepo(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	first := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "invoice.payment_failed",
		ReceivedAt: now,
	}
	inserted, err := repo.Insert(ctx, conn, first)
	require.NoError(t, err)
	require.True(t, inserted)

	// A redelivery carries the same external id under a fresh internal id.
	replay := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "invoice.payment_failed",
		ReceivedAt: now.Add(time.Minute),
	}
	inserted, err = repo.Insert(ctx, conn, replay)
	require.NoError(t, err)
	require.False(t, inserted)

	var count int64
	require.NoError(t, conn.Model(&domain.WebhookEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	// The same external id under a different provider is a distinct event.
	other := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "paddle",
		EventID:    "evt_1",
		EventType:  "invoice.payment_failed",
		ReceivedAt: now,
	}
	inserted, err = repo.Insert(ctx, conn, other)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	repo, conn, node := setupRepo(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	event := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "checkout.session.completed",
		ReceivedAt: now,
	}
	_, err := repo.Insert(ctx, conn, event)
	require.NoError(t, err)

	require.NoError(t, repo.MarkProcessed(ctx, conn, event.ID, now))

	stored, err := repo.Find(ctx, conn, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.Processed)
	require.NotNil(t, stored.ProcessedAt)
}

func TestMarkFailedAccumulatesRetries(t *testing.T) {
	ctx := context.Background()
	repo, conn, node := setupRepo(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	event := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "customer.subscription.updated",
		ReceivedAt: now,
	}
	_, err := repo.Insert(ctx, conn, event)
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, conn, event.ID, "store unavailable"))
	require.NoError(t, repo.MarkFailed(ctx, conn, event.ID, "store unavailable"))

	stored, err := repo.Find(ctx, conn, "stripe", "evt_1")
	require.NoError(t, err)
	require.Equal(t, 2, stored.RetryCount)
	require.NotNil(t, stored.ErrorMessage)
	require.Equal(t, "store unavailable", *stored.ErrorMessage)
	require.False(t, stored.Processed)
}

func TestClaimGrantsExclusiveOwnership(t *testing.T) {
	ctx := context.Background()
	repo, conn, node := setupRepo(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-5 * time.Minute)

	event := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "invoice.payment_failed",
		ReceivedAt: now,
	}
	_, err := repo.Insert(ctx, conn, event)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, conn, "stripe", "evt_1", now, stale)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NotNil(t, claimed.ClaimedAt)

	// A second delivery arriving at the same instant is turned away.
	_, err = repo.Claim(ctx, conn, "stripe", "evt_1", now, stale)
	require.ErrorIs(t, err, domain.ErrEventInFlight)

	require.NoError(t, repo.MarkProcessed(ctx, conn, event.ID, now))
	_, err = repo.Claim(ctx, conn, "stripe", "evt_1", now, stale)
	require.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)
}

func TestClaimReleasedByFailureAndStaleness(t *testing.T) {
	ctx := context.Background()
	repo, conn, node := setupRepo(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-5 * time.Minute)

	event := &domain.WebhookEvent{
		ID:         node.Generate(),
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "customer.subscription.updated",
		ReceivedAt: now,
	}
	_, err := repo.Insert(ctx, conn, event)
	require.NoError(t, err)

	_, err = repo.Claim(ctx, conn, "stripe", "evt_1", now, stale)
	require.NoError(t, err)

	// A failed handler releases the claim so the redelivery can retry
	// without waiting out the stale window.
	require.NoError(t, repo.MarkFailed(ctx, conn, event.ID, "store unavailable"))
	claimed, err := repo.Claim(ctx, conn, "stripe", "evt_1", now, stale)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// A claim never released (crashed delivery) goes stale and is retaken.
	later := now.Add(10 * time.Minute)
	claimed, err = repo.Claim(ctx, conn, "stripe", "evt_1", later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.True(t, claimed.ClaimedAt.Equal(later))
}

func TestClaimAbsentRow(t *testing.T) {
	repo, conn, _ := setupRepo(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := repo.Claim(context.Background(), conn, "stripe", "evt_missing", now, now.Add(-5*time.Minute))
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestFindAbsentReturnsNil(t *testing.T) {
	repo, conn, _ := setupRepo(t)

	stored, err := repo.Find(context.Background(), conn, "stripe", "evt_missing")
	require.NoError(t, err)
	require.Nil(t, stored)
}

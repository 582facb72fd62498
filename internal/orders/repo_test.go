package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/db"
	"github.com/restockhq/restock-backend/pkg/db/models"
	"github.com/restockhq/restock-backend/pkg/enums"
	"github.com/restockhq/restock-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  agent_run_id TEXT NOT NULL,
  merchant TEXT,
  external_order_ref TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  receipt TEXT,
  status TEXT NOT NULL DEFAULT 'processing',
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, external_order_ref)
);`
	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

func newOrder(subscriptionID uuid.UUID, ref string) *models.Order {
	return &models.Order{
		ID:               uuid.New(),
		SubscriptionID:   subscriptionID,
		AgentRunID:       uuid.New(),
		Merchant:         "example.com",
		ExternalOrderRef: ref,
		PriceCents:       1899,
		Status:           enums.OrderStatusSucceeded,
	}
}

func TestCreateAndFindOrder(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	subID := uuid.New()

	created, err := repo.Create(context.Background(), newOrder(subID, "ORD-1"))
	require.NoError(t, err)

	found, err := repo.FindBySubscriptionAndRef(context.Background(), subID, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, int64(1899), found.PriceCents)
}

func TestDuplicateExternalRefRejected(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	subID := uuid.New()

	_, err := repo.Create(context.Background(), newOrder(subID, "ORD-1"))
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), newOrder(subID, "ORD-1"))
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, ""))

	// Same ref on a different subscription is a distinct purchase.
	_, err = repo.Create(context.Background(), newOrder(uuid.New(), "ORD-1"))
	require.NoError(t, err)
}

func TestUpdateStatus(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	subID := uuid.New()

	order := newOrder(subID, "ORD-2")
	order.Status = enums.OrderStatusProcessing
	created, err := repo.Create(context.Background(), order)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(context.Background(), created.ID, enums.OrderStatusSucceeded))

	got, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusSucceeded, got.Status)
}

func TestListPageBySubscription(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	subID := uuid.New()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		order := newOrder(subID, fmt.Sprintf("ORD-%d", i+1))
		order.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		created, err := repo.Create(context.Background(), order)
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	// First page: newest two, plus the buffer row signalling more.
	page, err := repo.ListPageBySubscription(context.Background(), subID, nil, pagination.LimitWithBuffer(2))
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	cursor := pagination.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	rest, err := repo.ListPageBySubscription(context.Background(), subID, &cursor, pagination.LimitWithBuffer(2))
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}

func TestListBySubscription(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	subID := uuid.New()

	_, err := repo.Create(context.Background(), newOrder(subID, "ORD-1"))
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), newOrder(subID, "ORD-2"))
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), newOrder(uuid.New(), "ORD-3"))
	require.NoError(t, err)

	got, err := repo.ListBySubscription(context.Background(), subID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

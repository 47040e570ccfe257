package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/service"
	"github.com/kioskpay/gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusFixture(t *testing.T) (*service.StatusService, *testutil.MockRecordRepository, *testutil.MockStatusCache) {
	t.Helper()
	repo := testutil.NewMockRecordRepository()
	cache := testutil.NewMockStatusCache()
	return service.NewStatusService(repo, cache, nil), repo, cache
}

func TestStatus_UnknownOrderIsPending(t *testing.T) {
	svc, _, _ := newStatusFixture(t)

	proj, err := svc.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, "pending", proj.Status)
	assert.Equal(t, 1, proj.State)
}

func TestStatus_ProjectsStoredRecord(t *testing.T) {
	svc, repo, _ := newStatusFixture(t)

	rec := testutil.NewSettledRecord("order-1", record.ProviderPayme, 15000, "ptx-1")
	require.NoError(t, repo.Create(context.Background(), rec))

	proj, err := svc.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "success", proj.Status)
	assert.Equal(t, 2, proj.State)
	assert.Equal(t, int64(15000), proj.Amount)
	require.NotNil(t, proj.TransactionID)
	assert.Equal(t, "ptx-1", *proj.TransactionID)
	assert.NotZero(t, proj.PerformTime)
}

func TestStatus_SecondPollServedFromCache(t *testing.T) {
	svc, repo, cache := newStatusFixture(t)

	rec := testutil.NewBoundRecord("order-1", record.ProviderClick, 15000, "ctx-1")
	require.NoError(t, repo.Create(context.Background(), rec))

	first, err := svc.Get(context.Background(), "order-1")
	require.NoError(t, err)

	// The store going away must not break a cached poll.
	repo.GetByOrderIDFunc = func(ctx context.Context, orderID string) (*record.Record, error) {
		t.Fatal("store consulted despite cache entry")
		return nil, nil
	}
	second, err := svc.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	payload, ok := cache.Get(context.Background(), "order-1")
	require.True(t, ok)
	var cached service.Projection
	require.NoError(t, json.Unmarshal([]byte(payload), &cached))
	assert.Equal(t, "created", cached.Status)
}

func TestStatus_InvalidationForcesRefresh(t *testing.T) {
	svc, repo, cache := newStatusFixture(t)

	rec := testutil.NewBoundRecord("order-1", record.ProviderClick, 15000, "ctx-1")
	require.NoError(t, repo.Create(context.Background(), rec))

	_, err := svc.Get(context.Background(), "order-1")
	require.NoError(t, err)

	_, err = repo.SetPerformed(context.Background(), rec.ID, rec.CreateTime)
	require.NoError(t, err)
	cache.Invalidate(context.Background(), "order-1")

	proj, err := svc.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "success", proj.Status)
}

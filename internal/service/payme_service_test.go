package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/service"
	"github.com/kioskpay/gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymeFixture(t *testing.T) (*service.PaymeService, *testutil.MockRecordRepository, *testutil.MockStatusCache) {
	t.Helper()
	repo := testutil.NewMockRecordRepository()
	cache := testutil.NewMockStatusCache()
	svc := service.NewPaymeService(repo, &testutil.MockTxManager{}, cache)
	return svc, repo, cache
}

func seedIntent(t *testing.T, repo *testutil.MockRecordRepository, orderID string, amount int64) *record.Record {
	t.Helper()
	rec, err := record.New(orderID, record.ProviderPayme, amount)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), rec))
	return rec
}

func paymeCall(method service.PaymeMethod, params service.PaymeParams) service.PaymeRequest {
	return service.PaymeRequest{ID: 7, Method: method, Params: params}
}

func TestPayme_UnknownMethod(t *testing.T) {
	svc, _, _ := newPaymeFixture(t)

	resp := svc.Handle(context.Background(), paymeCall("TransferFunds", service.PaymeParams{}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeUnknownMethod, resp.Error.Code)
}

func TestPayme_CheckPerform_OrderNotFound(t *testing.T) {
	svc, _, _ := newPaymeFixture(t)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCheckPerformTransaction, service.PaymeParams{
		Account: service.PaymeAccount{OrderID: "missing"},
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeOrderUnavailable, resp.Error.Code)
}

func TestPayme_CheckPerform_AmountMismatch(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 1000)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCheckPerformTransaction, service.PaymeParams{
		Amount:  55000, // 1000 sums is 100000 tiyin
		Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeWrongAmount, resp.Error.Code)
}

func TestPayme_CheckPerform_Allowed(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 1000)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCheckPerformTransaction, service.PaymeParams{
		Amount:  100000,
		Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"allow": true}, resp.Result)
}

func TestPayme_Create_BindsExistingIntent(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID:      "ptx-1",
		Amount:  1500000,
		Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	require.Nil(t, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, rec.ProviderTxID)
	assert.Equal(t, "ptx-1", *rec.ProviderTxID)
	assert.Equal(t, record.StatusCreated, rec.Status)
}

func TestPayme_Create_OrderNotFound(t *testing.T) {
	svc, _, _ := newPaymeFixture(t)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID:      "ptx-1",
		Account: service.PaymeAccount{OrderID: "missing"},
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeOrderUnavailable, resp.Error.Code)
}

func TestPayme_Create_ReplayReturnsSameRecord(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	params := service.PaymeParams{ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"}}
	first := svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, params))
	second := svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, params))

	require.Nil(t, first.Error)
	require.Nil(t, second.Error)
	assert.Equal(t, first.Result, second.Result)

	// Replays never insert a second record.
	_, total, err := repo.List(context.Background(), record.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestPayme_Create_OrderTakenByAnotherTransaction(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	first := svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	require.Nil(t, first.Error)

	second := svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-2", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	require.NotNil(t, second.Error)
	assert.Equal(t, service.PaymeCodeOrderUnavailable, second.Error.Code)
}

func TestPayme_Perform_Settles(t *testing.T) {
	svc, repo, cache := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	resp := svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ptx-1"}))
	require.Nil(t, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusSuccess, rec.Status)
	assert.NotNil(t, rec.PerformTime)
	assert.Contains(t, cache.Invalidations, "order-1")
}

func TestPayme_Perform_ReplayKeepsPerformTime(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	first := svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ptx-1"}))
	require.Nil(t, first.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	stamped := *rec.PerformTime

	time.Sleep(5 * time.Millisecond)
	second := svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ptx-1"}))
	require.Nil(t, second.Error)
	assert.Equal(t, first.Result, second.Result)

	rec, err = repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, stamped, *rec.PerformTime)
}

func TestPayme_Perform_TxNotFound(t *testing.T) {
	svc, _, _ := newPaymeFixture(t)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ghost"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeTxNotFound, resp.Error.Code)
}

func TestPayme_Perform_OnCanceledRejected(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	svc.Handle(context.Background(), paymeCall(service.MethodCancelTransaction, service.PaymeParams{ID: "ptx-1"}))

	resp := svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ptx-1"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeCannotPerform, resp.Error.Code)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCanceled, rec.Status)
}

func TestPayme_Cancel_AfterSuccess(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ptx-1"}))

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCancelTransaction, service.PaymeParams{ID: "ptx-1"}))
	require.Nil(t, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCanceled, rec.Status)
	assert.NotNil(t, rec.CancelTime)
}

func TestPayme_Cancel_UnknownTxAcked(t *testing.T) {
	svc, _, _ := newPaymeFixture(t)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCancelTransaction, service.PaymeParams{ID: "ghost"}))
	assert.Nil(t, resp.Error)
}

func TestPayme_Check_StateSnapshot(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 15000)

	svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))
	svc.Handle(context.Background(), paymeCall(service.MethodPerformTransaction, service.PaymeParams{ID: "ptx-1"}))

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCheckTransaction, service.PaymeParams{ID: "ptx-1"}))
	require.Nil(t, resp.Error)
}

func TestPayme_Check_TxNotFound(t *testing.T) {
	svc, _, _ := newPaymeFixture(t)

	resp := svc.Handle(context.Background(), paymeCall(service.MethodCheckTransaction, service.PaymeParams{ID: "ghost"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, service.PaymeCodeTxNotFound, resp.Error.Code)
}

func TestPayme_Statement_WindowAndTiyin(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 1000)

	svc.Handle(context.Background(), paymeCall(service.MethodCreateTransaction, service.PaymeParams{
		ID: "ptx-1", Account: service.PaymeAccount{OrderID: "order-1"},
	}))

	now := time.Now().UTC()
	resp := svc.Handle(context.Background(), paymeCall(service.MethodGetStatement, service.PaymeParams{
		From: now.Add(-time.Hour).UnixMilli(),
		To:   now.Add(time.Hour).UnixMilli(),
	}))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Contains(t, result, "transactions")
}

func TestPayme_Statement_EmptyWindow(t *testing.T) {
	svc, repo, _ := newPaymeFixture(t)
	seedIntent(t, repo, "order-1", 1000)

	past := time.Now().UTC().Add(-48 * time.Hour)
	resp := svc.Handle(context.Background(), paymeCall(service.MethodGetStatement, service.PaymeParams{
		From: past.Add(-time.Hour).UnixMilli(),
		To:   past.UnixMilli(),
	}))
	require.Nil(t, resp.Error)
}

func TestSumsTiyinRoundTrip(t *testing.T) {
	assert.Equal(t, int64(100000), service.SumsToTiyin(1000))
	assert.Equal(t, int64(1000), service.TiyinToSums(100000))
}

package service_test

import (
	"context"
	"testing"

	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/infrastructure/config"
	"github.com/kioskpay/gateway/internal/service"
	"github.com/kioskpay/gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClickFixture(t *testing.T) (*service.ClickService, *testutil.MockRecordRepository, *testutil.MockStatusCache) {
	t.Helper()
	repo := testutil.NewMockRecordRepository()
	cache := testutil.NewMockStatusCache()
	svc := service.NewClickService(repo, &testutil.MockTxManager{}, cache, config.ClickConfig{
		MerchantID: "m-1",
		ServiceID:  "svc-9",
	})
	return svc, repo, cache
}

func seedClickIntent(t *testing.T, repo *testutil.MockRecordRepository, orderID string, amount int64) *record.Record {
	t.Helper()
	rec, err := record.New(orderID, record.ProviderClick, amount)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), rec))
	return rec
}

func prepareReq(orderID, amount string) service.ClickPrepareRequest {
	return service.ClickPrepareRequest{
		ClickTransID:    "ctx-1",
		ServiceID:       "svc-9",
		MerchantTransID: orderID,
		Amount:          amount,
		Action:          "0",
	}
}

func TestClick_Prepare_MissingParams(t *testing.T) {
	svc, _, _ := newClickFixture(t)

	resp := svc.Prepare(context.Background(), service.ClickPrepareRequest{ServiceID: "svc-9"})
	assert.Equal(t, service.ClickCodeMissingParams, resp.Error)
}

func TestClick_Prepare_ServiceMismatch(t *testing.T) {
	svc, _, _ := newClickFixture(t)

	req := prepareReq("order-1", "15000.00")
	req.ServiceID = "other"
	resp := svc.Prepare(context.Background(), req)
	assert.Equal(t, service.ClickCodeServiceMismatch, resp.Error)
}

func TestClick_Prepare_BindsExistingIntent(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	seeded := seedClickIntent(t, repo, "order-1", 15000)

	resp := svc.Prepare(context.Background(), prepareReq("order-1", "15000.00"))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)
	assert.Equal(t, seeded.ID.String(), resp.MerchantPrepareID)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, rec.ProviderTxID)
	assert.Equal(t, "ctx-1", *rec.ProviderTxID)
	assert.Equal(t, record.StatusCreated, rec.Status)
}

func TestClick_Prepare_NoPriorIntentCreatesRecord(t *testing.T) {
	svc, repo, _ := newClickFixture(t)

	resp := svc.Prepare(context.Background(), prepareReq("walkup-1", "8000.00"))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)
	require.NotEmpty(t, resp.MerchantPrepareID)

	rec, err := repo.GetByOrderID(context.Background(), "walkup-1")
	require.NoError(t, err)
	assert.Equal(t, record.ProviderClick, rec.Provider)
	assert.Equal(t, int64(8000), rec.Amount)
}

func TestClick_Prepare_ProviderAmountWins(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	seedClickIntent(t, repo, "order-1", 15000)

	resp := svc.Prepare(context.Background(), prepareReq("order-1", "14500.00"))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(14500), rec.Amount)
}

func TestClick_Prepare_RelabelsPaymeIntent(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	rec, err := record.New("order-1", record.ProviderPayme, 15000)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), rec))

	resp := svc.Prepare(context.Background(), prepareReq("order-1", "15000.00"))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)

	stored, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.ProviderClick, stored.Provider)
}

func TestClick_Prepare_ReplayAppendsNoEvent(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	seedClickIntent(t, repo, "order-1", 15000)

	first := svc.Prepare(context.Background(), prepareReq("order-1", "15000.00"))
	require.Equal(t, service.ClickCodeSuccess, first.Error)

	second := svc.Prepare(context.Background(), prepareReq("order-1", "15000.00"))
	require.Equal(t, service.ClickCodeSuccess, second.Error)
	assert.Equal(t, first.MerchantPrepareID, second.MerchantPrepareID)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	events, err := repo.GetEvents(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "click.prepared", events[0].EventType)
}

func completeReq(orderID, prepareID, amount, action, upstreamErr string) service.ClickCompleteRequest {
	return service.ClickCompleteRequest{
		ClickTransID:      "ctx-1",
		ServiceID:         "svc-9",
		MerchantTransID:   orderID,
		MerchantPrepareID: prepareID,
		Amount:            amount,
		Action:            action,
		Error:             upstreamErr,
	}
}

func prepareOrder(t *testing.T, svc *service.ClickService, repo *testutil.MockRecordRepository, orderID string, amount int64, amountStr string) string {
	t.Helper()
	seedClickIntent(t, repo, orderID, amount)
	resp := svc.Prepare(context.Background(), prepareReq(orderID, amountStr))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)
	return resp.MerchantPrepareID
}

func TestClick_Complete_ConfirmSettles(t *testing.T) {
	svc, repo, cache := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	resp := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "0"))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)
	assert.Equal(t, "Success", resp.ErrorNote)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusSuccess, rec.Status)
	assert.NotNil(t, rec.PerformTime)
	assert.Contains(t, cache.Invalidations, "order-1")
}

func TestClick_Complete_DoubleConfirmIsAlreadyPaid(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	first := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "0"))
	require.Equal(t, service.ClickCodeSuccess, first.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	stamped := *rec.PerformTime

	second := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "0"))
	assert.Equal(t, service.ClickCodeSuccess, second.Error)
	assert.Equal(t, "Already paid", second.ErrorNote)

	rec, err = repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, stamped, *rec.PerformTime)
}

func TestClick_Complete_AmountMismatch(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	resp := svc.Complete(context.Background(), completeReq("order-1", prepareID, "9000.00", "1", "0"))
	assert.Equal(t, service.ClickCodeAmountMismatch, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.NotEqual(t, record.StatusSuccess, rec.Status)
}

func TestClick_Complete_UnknownPrepareID(t *testing.T) {
	svc, _, _ := newClickFixture(t)

	resp := svc.Complete(context.Background(), completeReq("order-1", "not-a-uuid", "15000.00", "1", "0"))
	assert.Equal(t, service.ClickCodeNotFound, resp.Error)
}

func TestClick_Complete_WrongClickTransID(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	req := completeReq("order-1", prepareID, "15000.00", "1", "0")
	req.ClickTransID = "ctx-other"
	resp := svc.Complete(context.Background(), req)
	assert.Equal(t, service.ClickCodeNotFound, resp.Error)
}

func TestClick_Complete_UpstreamFailureMarksFailed(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	resp := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "-4017"))
	assert.Equal(t, service.ClickCodeUpstreamFailure, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, rec.Status)
}

func TestClick_Complete_RedeliveredUpstreamFailureAppendsNoEvent(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	first := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "-4017"))
	require.Equal(t, service.ClickCodeUpstreamFailure, first.Error)

	second := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "-4017"))
	require.Equal(t, service.ClickCodeUpstreamFailure, second.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, rec.Status)

	events, err := repo.GetEvents(context.Background(), rec.ID)
	require.NoError(t, err)
	var failures int
	for _, ev := range events {
		if ev.EventType == "click.upstream_failed" {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestClick_Complete_CancelAction(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	resp := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "0", "0"))
	require.Equal(t, service.ClickCodeSuccess, resp.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCanceled, rec.Status)
	assert.NotNil(t, rec.CancelTime)
}

func TestClick_Complete_ConfirmAfterCancelRejected(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	cancel := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "0", "0"))
	require.Equal(t, service.ClickCodeSuccess, cancel.Error)

	confirm := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "1", "0"))
	assert.Equal(t, service.ClickCodeUpstreamFailure, confirm.Error)

	rec, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCanceled, rec.Status)
}

func TestClick_Complete_InvalidAction(t *testing.T) {
	svc, repo, _ := newClickFixture(t)
	prepareID := prepareOrder(t, svc, repo, "order-1", 15000, "15000.00")

	resp := svc.Complete(context.Background(), completeReq("order-1", prepareID, "15000.00", "7", "0"))
	assert.Equal(t, service.ClickCodeInvalidAction, resp.Error)
}

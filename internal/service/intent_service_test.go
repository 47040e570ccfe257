package service_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/infrastructure/config"
	"github.com/kioskpay/gateway/internal/service"
	"github.com/kioskpay/gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntentFixture(t *testing.T, simulateEnabled bool) (*service.IntentService, *testutil.MockRecordRepository) {
	t.Helper()
	repo := testutil.NewMockRecordRepository()
	svc := service.NewIntentService(
		repo,
		testutil.NewMockStatusCache(),
		config.PaymeConfig{MerchantID: "pm-merchant", CheckoutURL: "https://checkout.paycom.uz"},
		config.ClickConfig{MerchantID: "ck-merchant", ServiceID: "svc-9", PayURL: "https://my.click.uz/services/pay"},
		config.SimulateConfig{Enabled: simulateEnabled},
	)
	return svc, repo
}

func TestIntent_Register(t *testing.T) {
	svc, repo := newIntentFixture(t, false)

	rec, err := svc.Register(context.Background(), "order-1", record.ProviderPayme, 15000)
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, rec.Status)

	stored, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestIntent_RegisterIdempotent(t *testing.T) {
	svc, repo := newIntentFixture(t, false)

	first, err := svc.Register(context.Background(), "order-1", record.ProviderPayme, 15000)
	require.NoError(t, err)

	// Re-registration returns the existing record even when the kiosk asks
	// for a different provider or amount.
	second, err := svc.Register(context.Background(), "order-1", record.ProviderClick, 99999)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(15000), second.Amount)

	_, total, err := repo.List(context.Background(), record.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestIntent_RegisterInvalidAmount(t *testing.T) {
	svc, _ := newIntentFixture(t, false)

	_, err := svc.Register(context.Background(), "order-1", record.ProviderPayme, 0)
	assert.Error(t, err)
}

func TestIntent_CheckoutURL_Payme(t *testing.T) {
	svc, _ := newIntentFixture(t, false)

	rec, err := svc.Register(context.Background(), "order-1", record.ProviderPayme, 1000)
	require.NoError(t, err)

	u, err := svc.CheckoutURL(rec)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "https://checkout.paycom.uz/"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, "https://checkout.paycom.uz/"))
	require.NoError(t, err)
	assert.Equal(t, "m=pm-merchant;ac.order_id=order-1;a=100000", string(decoded))
}

func TestIntent_CheckoutURL_Click(t *testing.T) {
	svc, _ := newIntentFixture(t, false)

	rec, err := svc.Register(context.Background(), "order-1", record.ProviderClick, 15000)
	require.NoError(t, err)

	u, err := svc.CheckoutURL(rec)
	require.NoError(t, err)
	assert.Contains(t, u, "service_id=svc-9")
	assert.Contains(t, u, "merchant_id=ck-merchant")
	assert.Contains(t, u, "amount=15000.00")
	assert.Contains(t, u, "transaction_param=order-1")
}

func TestIntent_ForcePaid_Disabled(t *testing.T) {
	svc, _ := newIntentFixture(t, false)

	_, err := svc.ForcePaid(context.Background(), "order-1", 0)
	assert.ErrorIs(t, err, domainErrors.ErrSimulateDisabled)
}

func TestIntent_ForcePaid_CreatesAndSettles(t *testing.T) {
	svc, repo := newIntentFixture(t, true)

	rec, err := svc.ForcePaid(context.Background(), "order-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, record.StatusSuccess, rec.Status)

	stored, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, record.ProviderTest, stored.Provider)
	require.NotNil(t, stored.ProviderTxID)
	assert.Equal(t, "test-order-1", *stored.ProviderTxID)
}

func TestIntent_ForcePaid_SettlesExistingIntent(t *testing.T) {
	svc, repo := newIntentFixture(t, true)

	registered, err := svc.Register(context.Background(), "order-1", record.ProviderPayme, 15000)
	require.NoError(t, err)

	forced, err := svc.ForcePaid(context.Background(), "order-1", 0)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, forced.ID)
	assert.Equal(t, record.StatusSuccess, forced.Status)

	_, total, err := repo.List(context.Background(), record.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

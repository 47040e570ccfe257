package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/infrastructure/config"
	"github.com/kioskpay/gateway/pkg/retry"
	"github.com/rs/zerolog/log"
)

// IntentService registers payment intents before the customer is redirected
// to a provider, and builds the provider-specific checkout URL the kiosk
// renders. Registration is idempotent per order id.
type IntentService struct {
	store    record.Repository
	cache    StatusCache
	payme    config.PaymeConfig
	click    config.ClickConfig
	simulate config.SimulateConfig
}

// NewIntentService creates a new IntentService.
func NewIntentService(
	store record.Repository,
	cache StatusCache,
	payme config.PaymeConfig,
	click config.ClickConfig,
	simulate config.SimulateConfig,
) *IntentService {
	return &IntentService{
		store:    store,
		cache:    cache,
		payme:    payme,
		click:    click,
		simulate: simulate,
	}
}

// Register creates a pending record for the order unless one already exists.
// Re-issuing a checkout URL for the same order is a no-op and returns the
// existing record regardless of the requested provider or amount.
func (s *IntentService) Register(ctx context.Context, orderID string, provider record.Provider, amount int64) (*record.Record, error) {
	return retry.DoWithResult(ctx, retry.ConflictConfig(), func() (*record.Record, error) {
		existing, err := s.store.GetByOrderID(ctx, orderID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domainErrors.ErrRecordNotFound) {
			return nil, err
		}

		rec, err := record.New(orderID, provider, amount)
		if err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, rec); err != nil {
			// ErrDuplicateOrder: a concurrent registration won; the retry
			// pass resolves to the committed record.
			return nil, err
		}
		return rec, nil
	})
}

// CheckoutURL builds the redirect target for the record's provider. Pure
// function over the record; rendering it as a scannable image is the
// kiosk's concern.
func (s *IntentService) CheckoutURL(rec *record.Record) (string, error) {
	switch rec.Provider {
	case record.ProviderPayme:
		// Payme encodes merchant, account and amount (in tiyin) as a
		// base64 path segment.
		raw := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", s.payme.MerchantID, rec.OrderID, SumsToTiyin(rec.Amount))
		return s.payme.CheckoutURL + "/" + base64.StdEncoding.EncodeToString([]byte(raw)), nil
	case record.ProviderClick:
		q := url.Values{}
		q.Set("service_id", s.click.ServiceID)
		q.Set("merchant_id", s.click.MerchantID)
		q.Set("amount", fmt.Sprintf("%.2f", float64(rec.Amount)))
		q.Set("transaction_param", rec.OrderID)
		return s.click.PayURL + "?" + q.Encode(), nil
	case record.ProviderTest:
		return "", nil
	default:
		return "", domainErrors.NewValidationError("provider", "unknown provider")
	}
}

// ForcePaid is the operator-only simulate hook: it forces the order's record
// to success, creating one if needed. Gated behind configuration and admin
// auth; never enabled in production.
func (s *IntentService) ForcePaid(ctx context.Context, orderID string, amount int64) (*record.Record, error) {
	if !s.simulate.Enabled {
		return nil, domainErrors.ErrSimulateDisabled
	}

	rec, err := s.store.GetByOrderID(ctx, orderID)
	if errors.Is(err, domainErrors.ErrRecordNotFound) {
		if amount <= 0 {
			amount = 10000
		}
		rec, err = record.New(orderID, record.ProviderTest, amount)
		if err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, rec); err != nil {
			if !errors.Is(err, domainErrors.ErrDuplicateOrder) {
				return nil, err
			}
			// A concurrent registration won the insert; use its record.
			if rec, err = s.store.GetByOrderID(ctx, orderID); err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	if rec.ProviderTxID == nil {
		if _, err := s.store.BindProviderTx(ctx, orderID, "test-"+orderID); err != nil &&
			!errors.Is(err, domainErrors.ErrTransactionBound) {
			return nil, err
		}
	}

	updated, err := s.store.SetPerformed(ctx, rec.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, orderID)
	}
	if err := s.store.AddEvent(ctx, &record.Event{
		ID:        uuid.New(),
		RecordID:  updated.ID,
		EventType: "payment.simulated",
		EventData: map[string]any{"order_id": orderID},
	}); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to append simulate audit event")
	}
	return updated, nil
}

// SumsToTiyin converts internal minor units (whole sums) to Payme's tiyin.
func SumsToTiyin(sums int64) int64 {
	return sums * 100
}

// TiyinToSums converts Payme's tiyin to internal minor units.
func TiyinToSums(tiyin int64) int64 {
	return tiyin / 100
}

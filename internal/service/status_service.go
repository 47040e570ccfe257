package service

import (
	"context"
	"encoding/json"
	"errors"

	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/infrastructure/observability"
	"github.com/rs/zerolog/log"
)

// Projection is the client-facing view of an order's payment progress. It is
// derived entirely from the stored record; the kiosk polls it while the
// customer pays.
type Projection struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	Provider      string  `json:"provider,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
	Amount        int64   `json:"amount,omitempty"`
	State         int     `json:"state"`
	CreateTime    int64   `json:"create_time,omitempty"`
	PerformTime   int64   `json:"perform_time,omitempty"`
	CancelTime    int64   `json:"cancel_time,omitempty"`
}

// StatusService answers kiosk status polls, short-circuiting through the
// cache so a polling loop does not hammer the store.
type StatusService struct {
	store   record.Repository
	cache   StatusCache
	metrics *observability.Metrics
}

// NewStatusService creates a new StatusService.
func NewStatusService(store record.Repository, cache StatusCache, metrics *observability.Metrics) *StatusService {
	return &StatusService{store: store, cache: cache, metrics: metrics}
}

// Get returns the projection for an order. An order with no record yet is
// reported as pending rather than an error: the kiosk starts polling before
// the first webhook can possibly have landed.
func (s *StatusService) Get(ctx context.Context, orderID string) (*Projection, error) {
	if s.cache != nil {
		if payload, ok := s.cache.Get(ctx, orderID); ok {
			var cached Projection
			if err := json.Unmarshal([]byte(payload), &cached); err == nil {
				if s.metrics != nil {
					s.metrics.StatusCacheHits.Inc()
				}
				s.observePoll(cached.Status)
				return &cached, nil
			}
			log.Debug().Str("order_id", orderID).Msg("discarding undecodable status cache entry")
		}
		if s.metrics != nil {
			s.metrics.StatusCacheMisses.Inc()
		}
	}

	rec, err := s.store.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrRecordNotFound) {
			proj := &Projection{
				OrderID: orderID,
				Status:  string(record.StatusPending),
				State:   record.ProviderStateOf(record.StatusPending),
			}
			s.observePoll(proj.Status)
			return proj, nil
		}
		return nil, err
	}

	proj := projectionOf(rec)
	if s.cache != nil {
		if payload, err := json.Marshal(proj); err == nil {
			s.cache.Set(ctx, orderID, string(payload))
		}
	}
	s.observePoll(proj.Status)
	return proj, nil
}

func (s *StatusService) observePoll(status string) {
	if s.metrics != nil {
		s.metrics.StatusPollsTotal.WithLabelValues(status).Inc()
	}
}

func projectionOf(rec *record.Record) *Projection {
	return &Projection{
		OrderID:       rec.OrderID,
		Status:        string(rec.Status),
		Provider:      string(rec.Provider),
		TransactionID: rec.ProviderTxID,
		Amount:        rec.Amount,
		State:         record.ProviderStateOf(rec.Status),
		CreateTime:    record.MsEpoch(&rec.CreateTime),
		PerformTime:   record.MsEpoch(rec.PerformTime),
		CancelTime:    record.MsEpoch(rec.CancelTime),
	}
}

package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/kioskpay/gateway/internal/domain/record"
)

// AdminService backs the operator endpoints: paging through records and the
// revenue dashboard.
type AdminService struct {
	store record.Repository
}

// NewAdminService creates a new AdminService.
func NewAdminService(store record.Repository) *AdminService {
	return &AdminService{store: store}
}

// List returns a page of records with the total count for pagination.
func (s *AdminService) List(ctx context.Context, filter record.ListFilter) ([]*record.Record, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.List(ctx, filter)
}

// Stats returns the aggregate counters and settled revenue.
func (s *AdminService) Stats(ctx context.Context) (*record.Stats, error) {
	return s.store.Stats(ctx)
}

// Events returns the audit trail of a single record, oldest first.
func (s *AdminService) Events(ctx context.Context, recordID uuid.UUID) ([]*record.Event, error) {
	return s.store.GetEvents(ctx, recordID)
}

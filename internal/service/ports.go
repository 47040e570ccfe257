package service

import "context"

// TransactionManager runs fn inside a storage transaction so a record
// mutation and its audit event commit or roll back together.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatusCache fronts the kiosk status poller. Implementations are free to
// lose entries at any time; the record store stays authoritative.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (string, bool)
	Set(ctx context.Context, orderID, payload string)
	Invalidate(ctx context.Context, orderID string)
}

package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
)

// --- Record Repository Mock ---

// MockRecordRepository is an in-memory implementation of record.Repository.
// It mirrors the store's conditional-update semantics so service tests
// exercise the same replay and race behavior the real store enforces.
type MockRecordRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*record.Record
	byOrder map[string]uuid.UUID
	byTx    map[string]uuid.UUID
	events  map[uuid.UUID][]*record.Event

	CreateFunc            func(ctx context.Context, r *record.Record) error
	GetByIDFunc           func(ctx context.Context, id uuid.UUID) (*record.Record, error)
	GetByOrderIDFunc      func(ctx context.Context, orderID string) (*record.Record, error)
	GetByProviderTxIDFunc func(ctx context.Context, txID string) (*record.Record, error)
	BindProviderTxFunc    func(ctx context.Context, orderID, txID string) (*record.Record, error)
	SetPerformedFunc      func(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error)
	SetCanceledFunc       func(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error)
	SetFailedFunc         func(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error)
	AddEventFunc          func(ctx context.Context, event *record.Event) error
}

func NewMockRecordRepository() *MockRecordRepository {
	return &MockRecordRepository{
		records: make(map[uuid.UUID]*record.Record),
		byOrder: make(map[string]uuid.UUID),
		byTx:    make(map[string]uuid.UUID),
		events:  make(map[uuid.UUID][]*record.Event),
	}
}

func (m *MockRecordRepository) Create(ctx context.Context, r *record.Record) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byOrder[r.OrderID]; exists {
		return domainErrors.ErrDuplicateOrder
	}
	cp := *r
	m.records[r.ID] = &cp
	m.byOrder[r.OrderID] = r.ID
	if r.ProviderTxID != nil {
		m.byTx[*r.ProviderTxID] = r.ID
	}
	return nil
}

func (m *MockRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockRecordRepository) GetByOrderID(ctx context.Context, orderID string) (*record.Record, error) {
	if m.GetByOrderIDFunc != nil {
		return m.GetByOrderIDFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	cp := *m.records[id]
	return &cp, nil
}

func (m *MockRecordRepository) GetByProviderTxID(ctx context.Context, txID string) (*record.Record, error) {
	if m.GetByProviderTxIDFunc != nil {
		return m.GetByProviderTxIDFunc(ctx, txID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTx[txID]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	cp := *m.records[id]
	return &cp, nil
}

func (m *MockRecordRepository) BindProviderTx(ctx context.Context, orderID, txID string) (*record.Record, error) {
	if m.BindProviderTxFunc != nil {
		return m.BindProviderTxFunc(ctx, orderID, txID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	rec := m.records[id]
	if rec.ProviderTxID != nil {
		if *rec.ProviderTxID == txID {
			cp := *rec
			return &cp, nil
		}
		return nil, domainErrors.ErrTransactionBound
	}
	if otherID, taken := m.byTx[txID]; taken && otherID != id {
		return nil, domainErrors.ErrTransactionBound
	}
	bound := txID
	rec.ProviderTxID = &bound
	if rec.Status == record.StatusPending {
		rec.Status = record.StatusCreated
	}
	rec.UpdatedAt = time.Now().UTC()
	m.byTx[txID] = id
	cp := *rec
	return &cp, nil
}

func (m *MockRecordRepository) SetPerformed(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error) {
	if m.SetPerformedFunc != nil {
		return m.SetPerformedFunc(ctx, id, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	switch rec.Status {
	case record.StatusPending, record.StatusCreated:
		rec.Status = record.StatusSuccess
		if rec.PerformTime == nil {
			t := at
			rec.PerformTime = &t
		}
		rec.UpdatedAt = time.Now().UTC()
	case record.StatusSuccess:
		// idempotent replay, timestamps untouched
	default:
		return nil, domainErrors.ErrInvalidStateTransition
	}
	cp := *rec
	return &cp, nil
}

func (m *MockRecordRepository) SetCanceled(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error) {
	if m.SetCanceledFunc != nil {
		return m.SetCanceledFunc(ctx, id, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	switch rec.Status {
	case record.StatusPending, record.StatusCreated, record.StatusSuccess:
		rec.Status = record.StatusCanceled
		if rec.CancelTime == nil {
			t := at
			rec.CancelTime = &t
		}
		rec.UpdatedAt = time.Now().UTC()
	case record.StatusCanceled, record.StatusFailed:
		// idempotent replay
	}
	cp := *rec
	return &cp, nil
}

func (m *MockRecordRepository) SetFailed(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error) {
	if m.SetFailedFunc != nil {
		return m.SetFailedFunc(ctx, id, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	switch rec.Status {
	case record.StatusPending, record.StatusCreated:
		rec.Status = record.StatusFailed
		if rec.CancelTime == nil {
			t := at
			rec.CancelTime = &t
		}
		rec.UpdatedAt = time.Now().UTC()
	case record.StatusFailed:
		// idempotent replay
	default:
		return nil, domainErrors.ErrInvalidStateTransition
	}
	cp := *rec
	return &cp, nil
}

func (m *MockRecordRepository) CorrectAmount(ctx context.Context, id uuid.UUID, amount int64) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrRecordNotFound
	}
	if rec.Status != record.StatusSuccess {
		rec.Amount = amount
		rec.UpdatedAt = time.Now().UTC()
	}
	cp := *rec
	return &cp, nil
}

func (m *MockRecordRepository) Relabel(ctx context.Context, id uuid.UUID, provider record.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domainErrors.ErrRecordNotFound
	}
	rec.Provider = provider
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockRecordRepository) SetProviderState(ctx context.Context, id uuid.UUID, state int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domainErrors.ErrRecordNotFound
	}
	s := state
	rec.ProviderState = &s
	return nil
}

func (m *MockRecordRepository) List(ctx context.Context, filter record.ListFilter) ([]*record.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*record.Record, 0, len(m.records))
	for _, rec := range m.records {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.Provider != nil && rec.Provider != *filter.Provider {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreateTime.After(matched[j].CreateTime)
	})
	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (m *MockRecordRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*record.Record, 0)
	for _, rec := range m.records {
		if rec.CreateTime.Before(from) || rec.CreateTime.After(to) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreateTime.After(matched[j].CreateTime)
	})
	return matched, nil
}

func (m *MockRecordRepository) Stats(ctx context.Context) (*record.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &record.Stats{}
	for _, rec := range m.records {
		stats.Total++
		switch rec.Status {
		case record.StatusSuccess:
			stats.Success++
			stats.Revenue += rec.Amount
		case record.StatusPending, record.StatusCreated:
			stats.Pending++
		case record.StatusCanceled:
			stats.Canceled++
		case record.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *MockRecordRepository) AddEvent(ctx context.Context, event *record.Event) error {
	if m.AddEventFunc != nil {
		return m.AddEventFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.events[event.RecordID] = append(m.events[event.RecordID], event)
	return nil
}

func (m *MockRecordRepository) GetEvents(ctx context.Context, recordID uuid.UUID) ([]*record.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*record.Event(nil), m.events[recordID]...), nil
}

// --- Transaction Manager Mock ---

// MockTxManager runs the function directly; the mock repository has no
// transactional isolation to coordinate.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Status Cache Mock ---

// MockStatusCache is an in-memory status cache.
type MockStatusCache struct {
	mu      sync.Mutex
	entries map[string]string

	Invalidations []string
}

func NewMockStatusCache() *MockStatusCache {
	return &MockStatusCache{entries: make(map[string]string)}
}

func (m *MockStatusCache) Get(ctx context.Context, orderID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.entries[orderID]
	return payload, ok
}

func (m *MockStatusCache) Set(ctx context.Context, orderID, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[orderID] = payload
}

func (m *MockStatusCache) Invalidate(ctx context.Context, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, orderID)
	m.Invalidations = append(m.Invalidations, orderID)
}

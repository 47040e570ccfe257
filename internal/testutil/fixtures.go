package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/kioskpay/gateway/internal/domain/record"
)

func NewTestRecord(orderID string, provider record.Provider, amount int64) *record.Record {
	now := time.Now().UTC()
	return &record.Record{
		ID:         uuid.New(),
		OrderID:    orderID,
		Amount:     amount,
		Provider:   provider,
		Status:     record.StatusPending,
		CreateTime: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewBoundRecord(orderID string, provider record.Provider, amount int64, txID string) *record.Record {
	r := NewTestRecord(orderID, provider, amount)
	r.ProviderTxID = &txID
	r.Status = record.StatusCreated
	return r
}

func NewSettledRecord(orderID string, provider record.Provider, amount int64, txID string) *record.Record {
	r := NewBoundRecord(orderID, provider, amount, txID)
	r.Status = record.StatusSuccess
	performedAt := time.Now().UTC()
	r.PerformTime = &performedAt
	return r
}

func StrPtr(s string) *string {
	return &s
}

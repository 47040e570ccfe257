package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
)

const recordColumns = `id, order_id, provider_transaction_id, amount, provider, status,
	 provider_state, create_time, perform_time, cancel_time, created_at, updated_at`

// RecordRepository implements record.Repository using PostgreSQL.
//
// The race-sensitive mutations (BindProviderTx, SetPerformed, SetCanceled,
// SetFailed, CorrectAmount) are single conditional UPDATE statements; two
// concurrent duplicate callbacks can never both win, and the loser resolves
// by re-reading the row.
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

func (r *RecordRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payment record.
func (r *RecordRepository) Create(ctx context.Context, rec *record.Record) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_records
		 (id, order_id, provider_transaction_id, amount, provider, status,
		  provider_state, create_time, perform_time, cancel_time, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.OrderID, rec.ProviderTxID, rec.Amount, string(rec.Provider), string(rec.Status),
		rec.ProviderState, rec.CreateTime, rec.PerformTime, rec.CancelTime, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateOrder
		}
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by its primary key.
func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE id = $1`, id))
}

// GetByOrderID retrieves a record by the caller-supplied order id.
func (r *RecordRepository) GetByOrderID(ctx context.Context, orderID string) (*record.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE order_id = $1`, orderID))
}

// GetByProviderTxID retrieves a record by the provider-assigned transaction id.
func (r *RecordRepository) GetByProviderTxID(ctx context.Context, txID string) (*record.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE provider_transaction_id = $1`, txID))
}

// BindProviderTx binds txID to the order's record only if no transaction id
// is bound yet. Expressed as update-if-absent so two concurrent create/prepare
// callbacks cannot both observe "no transaction id yet".
func (r *RecordRepository) BindProviderTx(ctx context.Context, orderID, txID string) (*record.Record, error) {
	rec, err := r.scanRecord(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_records SET
		   provider_transaction_id = $2,
		   status = CASE WHEN status = 'pending' THEN 'created' ELSE status END,
		   provider_state = 1,
		   updated_at = NOW()
		 WHERE order_id = $1 AND provider_transaction_id IS NULL
		 RETURNING `+recordColumns, orderID, txID))
	if err == nil {
		return rec, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// txID is already bound to some record; caller resolves by lookup.
		return nil, domainErrors.ErrTransactionBound
	}
	if !errors.Is(err, domainErrors.ErrRecordNotFound) {
		return nil, err
	}

	// Lost the conditional update: either the order is unknown, the same
	// transaction id was bound by a concurrent replay, or a different one won.
	existing, err := r.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrRecordNotFound) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, err
	}
	if existing.ProviderTxID != nil && *existing.ProviderTxID == txID {
		return existing, nil
	}
	return nil, domainErrors.ErrTransactionBound
}

// SetPerformed transitions to success. perform_time is stamped at most once;
// replays on an already successful record return the stored row untouched.
func (r *RecordRepository) SetPerformed(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error) {
	rec, err := r.scanRecord(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_records SET
		   status = 'success',
		   provider_state = 2,
		   perform_time = COALESCE(perform_time, $2),
		   updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'created')
		 RETURNING `+recordColumns, id, at))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domainErrors.ErrRecordNotFound) {
		return nil, err
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == record.StatusSuccess {
		return existing, nil
	}
	return nil, domainErrors.ErrInvalidStateTransition
}

// SetCanceled transitions to canceled. Already-terminal records are returned
// as stored (best-effort acknowledgement for duplicate cancels).
func (r *RecordRepository) SetCanceled(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error) {
	rec, err := r.scanRecord(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_records SET
		   status = 'canceled',
		   provider_state = -2,
		   cancel_time = COALESCE(cancel_time, $2),
		   updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'created', 'success')
		 RETURNING `+recordColumns, id, at))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domainErrors.ErrRecordNotFound) {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetFailed transitions to failed (provider reported an upstream error).
func (r *RecordRepository) SetFailed(ctx context.Context, id uuid.UUID, at time.Time) (*record.Record, error) {
	rec, err := r.scanRecord(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_records SET
		   status = 'failed',
		   provider_state = -1,
		   cancel_time = COALESCE(cancel_time, $2),
		   updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'created')
		 RETURNING `+recordColumns, id, at))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domainErrors.ErrRecordNotFound) {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// CorrectAmount overwrites the stored amount unless the record already
// settled; the provider is authoritative for the settlement amount only up to
// that point.
func (r *RecordRepository) CorrectAmount(ctx context.Context, id uuid.UUID, amount int64) (*record.Record, error) {
	rec, err := r.scanRecord(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_records SET amount = $2, updated_at = NOW()
		 WHERE id = $1 AND status <> 'success'
		 RETURNING `+recordColumns, id, amount))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domainErrors.ErrRecordNotFound) {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Relabel reassigns the owning provider.
func (r *RecordRepository) Relabel(ctx context.Context, id uuid.UUID, provider record.Provider) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_records SET provider = $2, updated_at = NOW() WHERE id = $1`,
		id, string(provider))
	if err != nil {
		return fmt.Errorf("relabel record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRecordNotFound
	}
	return nil
}

// SetProviderState stores the last reported provider state code. Audit only.
func (r *RecordRepository) SetProviderState(ctx context.Context, id uuid.UUID, state int) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_records SET provider_state = $2, updated_at = NOW() WHERE id = $1`,
		id, state)
	if err != nil {
		return fmt.Errorf("set provider state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRecordNotFound
	}
	return nil
}

// List lists records with optional filters, newest first.
func (r *RecordRepository) List(ctx context.Context, f record.ListFilter) ([]*record.Record, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Provider != nil {
		where += fmt.Sprintf(" AND provider = $%d", argIdx)
		args = append(args, string(*f.Provider))
		argIdx++
	}

	var total int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payment_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + recordColumns + ` FROM payment_records` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListCreatedBetween returns records created inside the inclusive window,
// newest first (statement queries).
func (r *RecordRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*record.Record, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE create_time >= $1 AND create_time <= $2
		 ORDER BY create_time DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list records by window: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

// Stats aggregates record counts and settled revenue.
func (r *RecordRepository) Stats(ctx context.Context) (*record.Stats, error) {
	s := &record.Stats{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status IN ('pending', 'created')),
		        COUNT(*) FILTER (WHERE status = 'canceled'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COALESCE(SUM(amount) FILTER (WHERE status = 'success'), 0)
		 FROM payment_records`,
	).Scan(&s.Total, &s.Success, &s.Pending, &s.Canceled, &s.Failed, &s.Revenue)
	if err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}
	return s, nil
}

// AddEvent inserts an audit event.
func (r *RecordRepository) AddEvent(ctx context.Context, event *record.Event) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO record_events (id, record_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		event.ID, event.RecordID, event.EventType, data,
	)
	if err != nil {
		return fmt.Errorf("insert record event: %w", err)
	}
	return nil
}

// GetEvents retrieves the audit trail for a record, oldest first.
func (r *RecordRepository) GetEvents(ctx context.Context, recordID uuid.UUID) ([]*record.Event, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, record_id, event_type, event_data, created_at
		 FROM record_events WHERE record_id = $1 ORDER BY created_at ASC`, recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list record events: %w", err)
	}
	defer rows.Close()

	var events []*record.Event
	for rows.Next() {
		e := &record.Event{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.RecordID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.EventData); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- scanning helpers ---

func (r *RecordRepository) collect(rows pgx.Rows) ([]*record.Record, error) {
	var records []*record.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanRecord scans a record from any source implementing the scanner interface.
func (r *RecordRepository) scanRecord(s scanner) (*record.Record, error) {
	rec := &record.Record{}
	var (
		provider string
		status   string
	)
	err := s.Scan(
		&rec.ID, &rec.OrderID, &rec.ProviderTxID, &rec.Amount, &provider, &status,
		&rec.ProviderState, &rec.CreateTime, &rec.PerformTime, &rec.CancelTime, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.Provider = record.Provider(provider)
	rec.Status = record.Status(status)
	return rec, nil
}

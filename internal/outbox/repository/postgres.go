package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"citizen-access-plane/internal/outbox/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an outbox repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const messageColumns = `id, case_id, channel, template_id, destination_hash, payload,
	status, retry_count, next_retry_at, last_error, created_at, sent_at`

// Create persists the message. The message must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.OutboxMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outbox_messages
		 (id, case_id, channel, template_id, destination_hash, payload, status,
		  retry_count, next_retry_at, last_error, created_at, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, nullString(m.CaseID), m.Channel, m.TemplateID, m.DestinationHash,
		[]byte(m.Payload), string(m.Status), m.RetryCount,
		nullTime(m.NextRetryAt), nullString(m.LastError), m.CreatedAt, nullTime(m.SentAt))
	return err
}

// GetByID returns the message for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.OutboxMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM outbox_messages WHERE id = $1`, id)
	return scanMessage(row)
}

// ListDue returns up to limit messages ready for dispatch, oldest first.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM outbox_messages
		 WHERE status = $1 OR (status = $2 AND next_retry_at <= $3)
		 ORDER BY created_at
		 LIMIT $4`,
		string(domain.StatusPending), string(domain.StatusRetry), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.OutboxMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSent transitions pending/retry -> sent. The retry_count guard makes the
// update a claim: a dispatcher that lost the race sees zero rows affected.
func (r *PostgresRepository) MarkSent(ctx context.Context, id string, fromRetryCount int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET status = $1, sent_at = $2, last_error = NULL, next_retry_at = NULL
		 WHERE id = $3 AND retry_count = $4 AND status IN ($5, $6)`,
		string(domain.StatusSent), at, id, fromRetryCount,
		string(domain.StatusPending), string(domain.StatusRetry))
	return oneRow(res, err)
}

// MarkRetry increments retry_count from fromRetryCount and schedules the next attempt.
func (r *PostgresRepository) MarkRetry(ctx context.Context, id string, fromRetryCount int, nextRetryAt time.Time, lastError string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET status = $1, retry_count = $2, next_retry_at = $3, last_error = $4
		 WHERE id = $5 AND retry_count = $6 AND status IN ($7, $8)`,
		string(domain.StatusRetry), fromRetryCount+1, nextRetryAt, lastError,
		id, fromRetryCount,
		string(domain.StatusPending), string(domain.StatusRetry))
	return oneRow(res, err)
}

// MarkDead transitions the message to dead once the retry budget is spent.
func (r *PostgresRepository) MarkDead(ctx context.Context, id string, fromRetryCount int, lastError string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET status = $1, retry_count = $2, next_retry_at = NULL, last_error = $3
		 WHERE id = $4 AND retry_count = $5 AND status IN ($6, $7)`,
		string(domain.StatusDead), fromRetryCount+1, lastError,
		id, fromRetryCount,
		string(domain.StatusPending), string(domain.StatusRetry))
	return oneRow(res, err)
}

// AppendEvent writes one message event log row. The event must have ID set.
func (r *PostgresRepository) AppendEvent(ctx context.Context, e *domain.MessageEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outbox_message_events (id, message_id, event_type, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.MessageID, e.EventType, e.Detail, e.CreatedAt)
	return err
}

// ListEvents returns the event log for a message, oldest first.
func (r *PostgresRepository) ListEvents(ctx context.Context, messageID string) ([]*domain.MessageEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, message_id, event_type, detail, created_at
		 FROM outbox_message_events WHERE message_id = $1 ORDER BY created_at`,
		messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.MessageEvent
	for rows.Next() {
		var e domain.MessageEvent
		if err := rows.Scan(&e.ID, &e.MessageID, &e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.OutboxMessage, error) {
	var (
		m           domain.OutboxMessage
		caseID      sql.NullString
		status      string
		payload     []byte
		nextRetryAt sql.NullTime
		lastError   sql.NullString
		sentAt      sql.NullTime
	)
	err := row.Scan(&m.ID, &caseID, &m.Channel, &m.TemplateID, &m.DestinationHash,
		&payload, &status, &m.RetryCount, &nextRetryAt, &lastError, &m.CreatedAt, &sentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.CaseID = caseID.String
	m.Status = domain.Status(status)
	m.Payload = payload
	m.NextRetryAt = nullTimeToPtr(nextRetryAt)
	m.LastError = lastError.String
	m.SentAt = nullTimeToPtr(sentAt)
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

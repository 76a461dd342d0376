package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Log is one delivery attempt record.
type Log struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"-"`
	DispatchID string    `json:"dispatchId"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	Status     string    `json:"status"`
	MessageID  string    `json:"messageId,omitempty"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// Repository persists notification logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records one delivery attempt.
func (r *Repository) Insert(ctx context.Context, log Log) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO notification_logs (tenant_id, dispatch_id, channel, recipient, status, message_id, error, sent_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		log.TenantID, log.DispatchID, log.Channel, log.Recipient, log.Status, log.MessageID, log.Error, log.SentAt)
	return err
}

// ListByDispatch returns delivery attempts for a dispatch, newest first.
func (r *Repository) ListByDispatch(ctx context.Context, tenantID, dispatchID string) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, dispatch_id, channel, recipient, status, message_id, error, sent_at
FROM notification_logs WHERE tenant_id=$1 AND dispatch_id=$2 ORDER BY sent_at DESC`, tenantID, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []Log{}
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.TenantID, &l.DispatchID, &l.Channel, &l.Recipient, &l.Status, &l.MessageID, &l.Error, &l.SentAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

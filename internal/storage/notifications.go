package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// NotificationRepo is a consume-on-read queue: each read transactionally
// deletes the rows it returns, so a message is delivered at most once
// (spec §4.8/§6).
type NotificationRepo struct {
	db        *sql.DB
	projectID string
}

func NewNotificationRepo(db *sql.DB, projectID string) *NotificationRepo {
	return &NotificationRepo{db: db, projectID: projectID}
}

// Enqueue appends a notification for later delivery.
func (r *NotificationRepo) Enqueue(ctx context.Context, message string) (*Notification, error) {
	n := &Notification{
		ID:        ids.New(),
		ProjectID: r.projectID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_notifications (id, project_id, message, created_at)
		VALUES (?, ?, ?, ?)`,
		n.ID, n.ProjectID, n.Message, isoTime(n.CreatedAt))
	if err != nil {
		return nil, wrapDBError("notifications: enqueue", err)
	}
	return n, nil
}

// Consume pops up to limit oldest notifications, deleting them from the
// queue in the same transaction so a crash between select and delete never
// duplicates delivery.
func (r *NotificationRepo) Consume(ctx context.Context, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 10
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("notifications: consume: begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, project_id, message, created_at
		FROM pending_notifications
		WHERE project_id = ?
		ORDER BY created_at ASC LIMIT ?`, r.projectID, limit)
	if err != nil {
		return nil, wrapDBError("notifications: consume: select", err)
	}

	var out []*Notification
	var idList []string
	for rows.Next() {
		var n Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.Message, &createdAt); err != nil {
			rows.Close()
			return nil, wrapDBError("notifications: consume: scan", err)
		}
		n.CreatedAt = parseISOTime(createdAt)
		out = append(out, &n)
		idList = append(idList, n.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range idList {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_notifications WHERE id = ?`, id); err != nil {
			return nil, wrapDBError("notifications: consume: delete", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("notifications: consume: commit", err)
	}
	return out, nil
}

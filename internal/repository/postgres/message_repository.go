package postgres

import (
	"context"
	"database/sql"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/history"
	"uniadmit/internal/domain/message"
)

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg message.Message) (*message.Message, error) {
	msg.ID = common.NewUUID()
	msg.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, application_id, sender_id, sender_role, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ApplicationID, msg.SenderID, msg.SenderRole, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, storeError("failed to create message", err)
	}
	return &msg, nil
}

func (r *MessageRepository) ListByApplication(ctx context.Context, applicationID common.UUID, limit, offset int) ([]message.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, application_id, sender_id, sender_role, body, created_at
		FROM messages WHERE application_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`, applicationID, limit, offset)
	if err != nil {
		return nil, storeError("failed to list messages", err)
	}
	defer rows.Close()
	var items []message.Message
	for rows.Next() {
		var msg message.Message
		if err := rows.Scan(&msg.ID, &msg.ApplicationID, &msg.SenderID, &msg.SenderRole, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, storeError("failed to scan message", err)
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list messages", err)
	}
	return items, nil
}

// HistoryRepository stores the status trail in Postgres when MongoDB is not
// configured.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, change history.StatusChange) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO status_history (application_id, from_status, to_status, event, actor_id, actor_role, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.ApplicationID, change.From, change.To, change.Event, nullUUID(change.ActorID), change.ActorRole, change.At)
	if err != nil {
		return storeError("failed to append status history", err)
	}
	return nil
}

func (r *HistoryRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]history.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT application_id, from_status, to_status, event, actor_id, actor_role, at
		FROM status_history WHERE application_id = $1 ORDER BY at, id`, applicationID)
	if err != nil {
		return nil, storeError("failed to list status history", err)
	}
	defer rows.Close()
	var items []history.StatusChange
	for rows.Next() {
		var change history.StatusChange
		var actorID sql.NullString
		if err := rows.Scan(&change.ApplicationID, &change.From, &change.To, &change.Event, &actorID, &change.ActorRole, &change.At); err != nil {
			return nil, storeError("failed to scan status history", err)
		}
		change.ActorID = common.UUID(actorID.String)
		items = append(items, change)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list status history", err)
	}
	return items, nil
}

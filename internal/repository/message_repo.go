package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmarket/backend/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

const messageColumns = `id, task_id, sender_id, receiver_id, content, read, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.TaskID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// Create inserts the message and its attachments in one transaction.
func (r *MessageRepo) Create(ctx context.Context, m *models.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, task_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING read, created_at
	`, m.ID, m.TaskID, m.SenderID, m.ReceiverID, m.Content).Scan(&m.Read, &m.CreatedAt)
	if err != nil {
		return err
	}
	for i := range m.Attachments {
		a := &m.Attachments[i]
		a.MessageID = m.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO message_attachments (id, message_id, url, kind, file_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, a.ID, a.MessageID, a.URL, a.Kind, a.FileName).Scan(&a.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListForUser returns every message the user sent or received, newest first.
func (r *MessageRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// Conversation returns the messages between two users in chronological
// order, optionally limited to one task, with attachments loaded.
func (r *MessageRepo) Conversation(ctx context.Context, userID, counterpart uuid.UUID, taskID *uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::uuid IS NULL OR task_id = $3)
		ORDER BY created_at
	`, userID, counterpart, taskID)
	if err != nil {
		return nil, err
	}
	msgs, err := collectMessages(rows)
	if err != nil || len(msgs) == 0 {
		return msgs, err
	}

	ids := make([]uuid.UUID, len(msgs))
	byID := make(map[uuid.UUID]*models.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	arows, err := r.pool.Query(ctx, `
		SELECT id, message_id, url, kind, file_name, created_at
		FROM message_attachments WHERE message_id = ANY($1)
		ORDER BY created_at
	`, ids)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var a models.MessageAttachment
		if err := arows.Scan(&a.ID, &a.MessageID, &a.URL, &a.Kind, &a.FileName, &a.CreatedAt); err != nil {
			return nil, err
		}
		if m := byID[a.MessageID]; m != nil {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return msgs, arows.Err()
}

// MarkRead marks unread messages from sender to receiver as read, limited
// to those created at or before upTo so a message that arrives after the
// reader's view was rendered stays unread.
func (r *MessageRepo) MarkRead(ctx context.Context, receiverID, senderID uuid.UUID, taskID *uuid.UUID, upTo time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT read
		  AND ($3::uuid IS NULL OR task_id = $3)
		  AND created_at <= $4
	`, receiverID, senderID, taskID, upTo)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE receiver_id = $1 AND NOT read`, userID).Scan(&n)
	return n, err
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

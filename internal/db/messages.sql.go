package db

import (
	"context"
	"database/sql"
)

const messageColumns = `id, session_id, round, role, model_id, content, status, created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var i Message
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.Round,
		&i.Role,
		&i.ModelID,
		&i.Content,
		&i.Status,
		&i.CreatedAt,
	)
	return i, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	items := []Message{}
	for rows.Next() {
		i, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createMessage = `-- name: CreateMessage :one
INSERT INTO messages (id, session_id, round, role, model_id, content, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + messageColumns

type CreateMessageParams struct {
	ID        string
	SessionID string
	Round     int64
	Role      string
	ModelID   sql.NullString
	Content   string
	Status    string
	CreatedAt int64
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	row := q.db.QueryRowContext(ctx, createMessage,
		arg.ID,
		arg.SessionID,
		arg.Round,
		arg.Role,
		arg.ModelID,
		arg.Content,
		arg.Status,
		arg.CreatedAt,
	)
	return scanMessage(row)
}

const getMessage = `-- name: GetMessage :one
SELECT ` + messageColumns + `
FROM messages
WHERE id = ? LIMIT 1`

func (q *Queries) GetMessage(ctx context.Context, id string) (Message, error) {
	row := q.db.QueryRowContext(ctx, getMessage, id)
	return scanMessage(row)
}

// Messages are ordered by insertion, which is the order the scheduler appends
// them in.
const listMessagesBySession = `-- name: ListMessagesBySession :many
SELECT ` + messageColumns + `
FROM messages
WHERE session_id = ?
ORDER BY round ASC, rowid ASC`

func (q *Queries) ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, listMessagesBySession, sessionID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

const listMessagesUpToRound = `-- name: ListMessagesUpToRound :many
SELECT ` + messageColumns + `
FROM messages
WHERE session_id = ? AND round <= ?
ORDER BY round ASC, rowid ASC`

type ListMessagesUpToRoundParams struct {
	SessionID string
	Round     int64
}

func (q *Queries) ListMessagesUpToRound(ctx context.Context, arg ListMessagesUpToRoundParams) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, listMessagesUpToRound, arg.SessionID, arg.Round)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

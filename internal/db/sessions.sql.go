package db

import (
	"context"
)

const sessionColumns = `id, title, status, current_round, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var i Session
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.Status,
		&i.CurrentRound,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createSession = `-- name: CreateSession :one
INSERT INTO sessions (id, title, status, current_round, created_at, updated_at)
VALUES (?, ?, 'active', 0, ?, ?)
RETURNING ` + sessionColumns

type CreateSessionParams struct {
	ID        string
	Title     string
	CreatedAt int64
	UpdatedAt int64
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	row := q.db.QueryRowContext(ctx, createSession, arg.ID, arg.Title, arg.CreatedAt, arg.UpdatedAt)
	return scanSession(row)
}

const getSessionByID = `-- name: GetSessionByID :one
SELECT ` + sessionColumns + `
FROM sessions
WHERE id = ? LIMIT 1`

func (q *Queries) GetSessionByID(ctx context.Context, id string) (Session, error) {
	row := q.db.QueryRowContext(ctx, getSessionByID, id)
	return scanSession(row)
}

const listSessions = `-- name: ListSessions :many
SELECT ` + sessionColumns + `
FROM sessions
ORDER BY updated_at DESC, created_at DESC`

func (q *Queries) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, listSessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Session{}
	for rows.Next() {
		i, err := scanSession(rows)
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

const updateSessionTitle = `-- name: UpdateSessionTitle :one
UPDATE sessions
SET title = ?, updated_at = ?
WHERE id = ?
RETURNING ` + sessionColumns

type UpdateSessionTitleParams struct {
	Title     string
	UpdatedAt int64
	ID        string
}

func (q *Queries) UpdateSessionTitle(ctx context.Context, arg UpdateSessionTitleParams) (Session, error) {
	row := q.db.QueryRowContext(ctx, updateSessionTitle, arg.Title, arg.UpdatedAt, arg.ID)
	return scanSession(row)
}

const updateSessionRound = `-- name: UpdateSessionRound :one
UPDATE sessions
SET current_round = ?, updated_at = ?
WHERE id = ? AND current_round = ? AND status = 'active'
RETURNING ` + sessionColumns

// UpdateSessionRoundParams moves a session from FromRound to ToRound. The
// update only applies when the stored round still equals FromRound.
type UpdateSessionRoundParams struct {
	ToRound   int64
	UpdatedAt int64
	ID        string
	FromRound int64
}

func (q *Queries) UpdateSessionRound(ctx context.Context, arg UpdateSessionRoundParams) (Session, error) {
	row := q.db.QueryRowContext(ctx, updateSessionRound, arg.ToRound, arg.UpdatedAt, arg.ID, arg.FromRound)
	return scanSession(row)
}

const updateSessionStatus = `-- name: UpdateSessionStatus :one
UPDATE sessions
SET status = ?, updated_at = ?
WHERE id = ?
RETURNING ` + sessionColumns

type UpdateSessionStatusParams struct {
	Status    string
	UpdatedAt int64
	ID        string
}

func (q *Queries) UpdateSessionStatus(ctx context.Context, arg UpdateSessionStatusParams) (Session, error) {
	row := q.db.QueryRowContext(ctx, updateSessionStatus, arg.Status, arg.UpdatedAt, arg.ID)
	return scanSession(row)
}

const deleteSession = `-- name: DeleteSession :exec
DELETE FROM sessions
WHERE id = ?`

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteSession, id)
	return err
}

const addSessionModel = `-- name: AddSessionModel :exec
INSERT INTO session_models (session_id, position, model_id)
VALUES (?, ?, ?)`

type AddSessionModelParams struct {
	SessionID string
	Position  int64
	ModelID   string
}

func (q *Queries) AddSessionModel(ctx context.Context, arg AddSessionModelParams) error {
	_, err := q.db.ExecContext(ctx, addSessionModel, arg.SessionID, arg.Position, arg.ModelID)
	return err
}

const listSessionModels = `-- name: ListSessionModels :many
SELECT model_id
FROM session_models
WHERE session_id = ?
ORDER BY position ASC`

func (q *Queries) ListSessionModels(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listSessionModels, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []string{}
	for rows.Next() {
		var modelID string
		if err := rows.Scan(&modelID); err != nil {
			return nil, err
		}
		items = append(items, modelID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteSessionModels = `-- name: DeleteSessionModels :exec
DELETE FROM session_models
WHERE session_id = ?`

func (q *Queries) DeleteSessionModels(ctx context.Context, sessionID string) error {
	_, err := q.db.ExecContext(ctx, deleteSessionModels, sessionID)
	return err
}

package db

import "database/sql"

type Session struct {
	ID           string
	Title        string
	Status       string
	CurrentRound int64
	CreatedAt    int64
	UpdatedAt    int64
}

type SessionModel struct {
	SessionID string
	Position  int64
	ModelID   string
}

type Message struct {
	ID        string
	SessionID string
	Round     int64
	Role      string
	ModelID   sql.NullString
	Content   string
	Status    string
	CreatedAt int64
}

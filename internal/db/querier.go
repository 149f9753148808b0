package db

import (
	"context"
)

type Querier interface {
	CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error)
	GetSessionByID(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSessionTitle(ctx context.Context, arg UpdateSessionTitleParams) (Session, error)
	UpdateSessionRound(ctx context.Context, arg UpdateSessionRoundParams) (Session, error)
	UpdateSessionStatus(ctx context.Context, arg UpdateSessionStatusParams) (Session, error)
	DeleteSession(ctx context.Context, id string) error

	AddSessionModel(ctx context.Context, arg AddSessionModelParams) error
	ListSessionModels(ctx context.Context, sessionID string) ([]string, error)
	DeleteSessionModels(ctx context.Context, sessionID string) error

	CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error)
	ListMessagesUpToRound(ctx context.Context, arg ListMessagesUpToRoundParams) ([]Message, error)
}

var _ Querier = (*Queries)(nil)

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/agentround/agentround/internal/db"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/pubsub"
	"github.com/google/uuid"
)

type Session = proto.Session

var (
	ErrNotFound      = errors.New("session not found")
	ErrEnded         = errors.New("session has ended")
	ErrRoundConflict = errors.New("session round changed concurrently")
	ErrNoModels      = errors.New("at least one model is required")
)

type Service interface {
	pubsub.Suscriber[Session]
	Create(ctx context.Context, models []string) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, id string) error
	UpdateTitle(ctx context.Context, id, title string) (Session, error)
	// SetModels replaces the ordered model list of a session.
	SetModels(ctx context.Context, id string, models []string) (Session, error)
	// AdvanceRound moves the session from round `from` to `from+1`. It fails
	// with ErrRoundConflict when the stored round is no longer `from`.
	AdvanceRound(ctx context.Context, id string, from int64) (Session, error)
	End(ctx context.Context, id string) (Session, error)
}

type service struct {
	*pubsub.Broker[Session]
	conn *sql.DB
	q    *db.Queries
}

func NewService(conn *sql.DB) Service {
	return &service{
		Broker: pubsub.NewBroker[Session](),
		conn:   conn,
		q:      db.New(conn),
	}
}

func (s *service) Create(ctx context.Context, models []string) (Session, error) {
	if err := validateModels(models); err != nil {
		return Session{}, err
	}

	now := time.Now().UnixMilli()
	var created Session
	err := s.inTx(ctx, func(q *db.Queries) error {
		dbSession, err := q.CreateSession(ctx, db.CreateSessionParams{
			ID:        uuid.New().String(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := addModels(ctx, q, dbSession.ID, models); err != nil {
			return err
		}
		created = fromDBItem(dbSession, models)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.Publish(pubsub.CreatedEvent, created)
	return created, nil
}

func (s *service) Get(ctx context.Context, id string) (Session, error) {
	dbSession, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, notFound(err)
	}
	return s.withModels(ctx, dbSession)
}

func (s *service) List(ctx context.Context) ([]Session, error) {
	dbSessions, err := s.q.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, len(dbSessions))
	for i, dbSession := range dbSessions {
		sessions[i], err = s.withModels(ctx, dbSession)
		if err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.q.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.Publish(pubsub.DeletedEvent, session)
	return nil
}

func (s *service) UpdateTitle(ctx context.Context, id, title string) (Session, error) {
	dbSession, err := s.q.UpdateSessionTitle(ctx, db.UpdateSessionTitleParams{
		Title:     title,
		UpdatedAt: time.Now().UnixMilli(),
		ID:        id,
	})
	if err != nil {
		return Session{}, notFound(err)
	}
	return s.updated(ctx, dbSession)
}

func (s *service) SetModels(ctx context.Context, id string, models []string) (Session, error) {
	if err := validateModels(models); err != nil {
		return Session{}, err
	}
	var updated Session
	err := s.inTx(ctx, func(q *db.Queries) error {
		dbSession, err := q.GetSessionByID(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if dbSession.Status == string(proto.SessionEnded) {
			return ErrEnded
		}
		if err := q.DeleteSessionModels(ctx, id); err != nil {
			return err
		}
		if err := addModels(ctx, q, id, models); err != nil {
			return err
		}
		dbSession, err = q.UpdateSessionTitle(ctx, db.UpdateSessionTitleParams{
			Title:     dbSession.Title,
			UpdatedAt: time.Now().UnixMilli(),
			ID:        id,
		})
		if err != nil {
			return err
		}
		updated = fromDBItem(dbSession, models)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.Publish(pubsub.UpdatedEvent, updated)
	return updated, nil
}

func (s *service) AdvanceRound(ctx context.Context, id string, from int64) (Session, error) {
	dbSession, err := s.q.UpdateSessionRound(ctx, db.UpdateSessionRoundParams{
		ToRound:   from + 1,
		UpdatedAt: time.Now().UnixMilli(),
		ID:        id,
		FromRound: from,
	})
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		switch {
		case getErr != nil:
			return Session{}, getErr
		case current.Status == proto.SessionEnded:
			return Session{}, ErrEnded
		default:
			return Session{}, ErrRoundConflict
		}
	}
	if err != nil {
		return Session{}, err
	}
	return s.updated(ctx, dbSession)
}

func (s *service) End(ctx context.Context, id string) (Session, error) {
	dbSession, err := s.q.UpdateSessionStatus(ctx, db.UpdateSessionStatusParams{
		Status:    string(proto.SessionEnded),
		UpdatedAt: time.Now().UnixMilli(),
		ID:        id,
	})
	if err != nil {
		return Session{}, notFound(err)
	}
	return s.updated(ctx, dbSession)
}

func (s *service) updated(ctx context.Context, dbSession db.Session) (Session, error) {
	session, err := s.withModels(ctx, dbSession)
	if err != nil {
		return Session{}, err
	}
	s.Publish(pubsub.UpdatedEvent, session)
	return session, nil
}

func (s *service) withModels(ctx context.Context, dbSession db.Session) (Session, error) {
	models, err := s.q.ListSessionModels(ctx, dbSession.ID)
	if err != nil {
		return Session{}, err
	}
	return fromDBItem(dbSession, models), nil
}

func (s *service) inTx(ctx context.Context, fn func(q *db.Queries) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(s.q.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func addModels(ctx context.Context, q *db.Queries, sessionID string, models []string) error {
	for i, m := range models {
		if err := q.AddSessionModel(ctx, db.AddSessionModelParams{
			SessionID: sessionID,
			Position:  int64(i),
			ModelID:   m,
		}); err != nil {
			return err
		}
	}
	return nil
}

func validateModels(models []string) error {
	if len(models) == 0 {
		return ErrNoModels
	}
	for i, m := range models {
		if m == "" {
			return fmt.Errorf("model #%d: empty id", i+1)
		}
		if slices.Contains(models[:i], m) {
			return fmt.Errorf("model %q listed twice", m)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func fromDBItem(item db.Session, models []string) Session {
	return Session{
		ID:           item.ID,
		Title:        item.Title,
		Status:       proto.SessionStatus(item.Status),
		CurrentRound: item.CurrentRound,
		Models:       slices.Clone(models),
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

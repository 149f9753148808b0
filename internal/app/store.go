package app

import (
	"context"

	"github.com/agentround/agentround/internal/message"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/session"
)

// store adapts the session and message services to round.Store.
type store struct {
	sessions session.Service
	messages message.Service
}

func (s *store) Session(ctx context.Context, sessionID string) (proto.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *store) OrderedModels(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Models, nil
}

func (s *store) History(ctx context.Context, sessionID string, uptoRound int64) ([]proto.Message, error) {
	return s.messages.ListUpToRound(ctx, sessionID, uptoRound)
}

func (s *store) AppendMessage(ctx context.Context, sessionID string, params proto.CreateMessageParams) (proto.Message, error) {
	return s.messages.Create(ctx, sessionID, params)
}

func (s *store) SetTitle(ctx context.Context, sessionID, title string) error {
	_, err := s.sessions.UpdateTitle(ctx, sessionID, title)
	return err
}

func (s *store) AdvanceRound(ctx context.Context, sessionID string, from int64) (proto.Session, error) {
	return s.sessions.AdvanceRound(ctx, sessionID, from)
}

func (s *store) End(ctx context.Context, sessionID string) (proto.Session, error) {
	return s.sessions.End(ctx, sessionID)
}

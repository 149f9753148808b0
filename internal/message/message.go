package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentround/agentround/internal/db"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/pubsub"
	"github.com/google/uuid"
)

type (
	Message             = proto.Message
	CreateMessageParams = proto.CreateMessageParams
)

var ErrNotFound = errors.New("message not found")

// Service stores the append-only transcript of sessions.
type Service interface {
	pubsub.Suscriber[Message]
	Create(ctx context.Context, sessionID string, params CreateMessageParams) (Message, error)
	Get(ctx context.Context, id string) (Message, error)
	List(ctx context.Context, sessionID string) ([]Message, error)
	// ListUpToRound returns every message of rounds 1..round in transcript
	// order.
	ListUpToRound(ctx context.Context, sessionID string, round int64) ([]Message, error)
}

type service struct {
	*pubsub.Broker[Message]
	q db.Querier
}

func NewService(q db.Querier) Service {
	return &service{
		Broker: pubsub.NewBroker[Message](),
		q:      q,
	}
}

func (s *service) Create(ctx context.Context, sessionID string, params CreateMessageParams) (Message, error) {
	if params.Round < 1 {
		return Message{}, fmt.Errorf("invalid round %d", params.Round)
	}
	switch params.Role {
	case proto.User:
		params.ModelID = ""
		params.Status = proto.StatusSuccess
	case proto.Assistant:
		if params.ModelID == "" {
			return Message{}, errors.New("assistant message without model")
		}
		if params.Status == "" {
			params.Status = proto.StatusSuccess
		}
	default:
		return Message{}, fmt.Errorf("invalid role %q", params.Role)
	}

	dbMessage, err := s.q.CreateMessage(ctx, db.CreateMessageParams{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Round:     params.Round,
		Role:      string(params.Role),
		ModelID:   sql.NullString{String: params.ModelID, Valid: params.ModelID != ""},
		Content:   params.Content,
		Status:    string(params.Status),
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return Message{}, err
	}
	msg := fromDBItem(dbMessage)
	s.Publish(pubsub.CreatedEvent, msg)
	return msg, nil
}

func (s *service) Get(ctx context.Context, id string) (Message, error) {
	dbMessage, err := s.q.GetMessage(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return fromDBItem(dbMessage), nil
}

func (s *service) List(ctx context.Context, sessionID string) ([]Message, error) {
	dbMessages, err := s.q.ListMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return fromDBItems(dbMessages), nil
}

func (s *service) ListUpToRound(ctx context.Context, sessionID string, round int64) ([]Message, error) {
	dbMessages, err := s.q.ListMessagesUpToRound(ctx, db.ListMessagesUpToRoundParams{
		SessionID: sessionID,
		Round:     round,
	})
	if err != nil {
		return nil, err
	}
	return fromDBItems(dbMessages), nil
}

func fromDBItems(items []db.Message) []Message {
	messages := make([]Message, len(items))
	for i, item := range items {
		messages[i] = fromDBItem(item)
	}
	return messages
}

func fromDBItem(item db.Message) Message {
	return Message{
		ID:        item.ID,
		SessionID: item.SessionID,
		Round:     item.Round,
		Role:      proto.MessageRole(item.Role),
		ModelID:   item.ModelID.String,
		Content:   item.Content,
		Status:    proto.MessageStatus(item.Status),
		CreatedAt: item.CreatedAt,
	}
}

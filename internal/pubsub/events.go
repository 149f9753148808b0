package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentround/agentround/internal/proto"
)

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

type Suscriber[T any] interface {
	Subscribe(context.Context) <-chan Event[T]
}

type (
	PayloadType = string

	// Payload wraps an event body with the name of its type so a single
	// stream can carry sessions and messages.
	Payload struct {
		Type    PayloadType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	// EventType identifies the type of event
	EventType string

	// Event represents an event in the lifecycle of a resource
	Event[T any] struct {
		Type    EventType `json:"type"`
		Payload T         `json:"payload"`
	}

	Publisher[T any] interface {
		Publish(EventType, T)
	}
)

const (
	PayloadTypeMessage PayloadType = "message"
	PayloadTypeSession PayloadType = "session"
)

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *EventType) UnmarshalText(data []byte) error {
	*t = EventType(data)
	return nil
}

func payloadType(v any) (PayloadType, error) {
	switch v.(type) {
	case proto.Message:
		return PayloadTypeMessage, nil
	case proto.Session:
		return PayloadTypeSession, nil
	default:
		return "", fmt.Errorf("unknown payload type: %T", v)
	}
}

func (e Event[T]) MarshalJSON() ([]byte, error) {
	typ, err := payloadType(e.Payload)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Payload Payload   `json:"payload"`
	}{
		Type:    e.Type,
		Payload: Payload{Type: typ, Payload: body},
	})
}

func (e *Event[T]) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type    EventType `json:"type"`
		Payload Payload   `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Type = aux.Type

	var pl any
	switch aux.Payload.Type {
	case PayloadTypeMessage:
		var m proto.Message
		if err := json.Unmarshal(aux.Payload.Payload, &m); err != nil {
			return err
		}
		pl = m
	case PayloadTypeSession:
		var s proto.Session
		if err := json.Unmarshal(aux.Payload.Payload, &s); err != nil {
			return err
		}
		pl = s
	default:
		return fmt.Errorf("unknown payload type: %q", aux.Payload.Type)
	}

	v, ok := pl.(T)
	if !ok {
		return fmt.Errorf("payload %q does not match %T", aux.Payload.Type, e.Payload)
	}
	e.Payload = v
	return nil
}

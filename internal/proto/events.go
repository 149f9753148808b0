package proto

import (
	"encoding/json"
	"fmt"
)

// StreamEventType names a frame of the round event stream.
type StreamEventType string

const (
	EventRoundStart     StreamEventType = "round_start"
	EventModelStart     StreamEventType = "model_start"
	EventToken          StreamEventType = "token"
	EventModelEnd       StreamEventType = "model_end"
	EventModelError     StreamEventType = "model_error"
	EventRoundEnd       StreamEventType = "round_end"
	EventSessionEnd     StreamEventType = "session_end"
	EventTitleGenerated StreamEventType = "title_generated"
)

// SessionEndConsensus is the only status a session_end frame carries today.
const SessionEndConsensus = "consensus_reached"

type RoundStart struct {
	Round int64 `json:"round"`
}

type ModelStart struct {
	Model       string `json:"model"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

type Token struct {
	Content string `json:"content"`
}

type ModelEnd struct {
	Model  string        `json:"model"`
	Status MessageStatus `json:"status"`
}

type ModelError struct {
	Model   string `json:"model"`
	Error   string `json:"error"`
	Skipped bool   `json:"skipped"`
}

type RoundEnd struct {
	Round            int64 `json:"round"`
	AwaitingDecision bool  `json:"awaiting_decision"`
}

type SessionEnd struct {
	Status string `json:"status"`
}

type TitleGenerated struct {
	Title string `json:"title"`
}

// StreamEvent is one frame of the round event stream. Data holds the payload
// struct matching Type.
type StreamEvent struct {
	Type StreamEventType
	Data any
}

// DecodeStreamEvent turns a received frame back into a typed event.
func DecodeStreamEvent(name string, data []byte) (StreamEvent, error) {
	ev := StreamEvent{Type: StreamEventType(name)}
	var err error
	switch ev.Type {
	case EventRoundStart:
		ev.Data, err = decode[RoundStart](data)
	case EventModelStart:
		ev.Data, err = decode[ModelStart](data)
	case EventToken:
		ev.Data, err = decode[Token](data)
	case EventModelEnd:
		ev.Data, err = decode[ModelEnd](data)
	case EventModelError:
		ev.Data, err = decode[ModelError](data)
	case EventRoundEnd:
		ev.Data, err = decode[RoundEnd](data)
	case EventSessionEnd:
		ev.Data, err = decode[SessionEnd](data)
	case EventTitleGenerated:
		ev.Data, err = decode[TitleGenerated](data)
	default:
		return ev, fmt.Errorf("unknown stream event %q", name)
	}
	return ev, err
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

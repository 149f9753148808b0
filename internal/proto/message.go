package proto

type MessageRole string

const (
	User      MessageRole = "user"
	Assistant MessageRole = "assistant"
)

func (r MessageRole) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

func (r *MessageRole) UnmarshalText(data []byte) error {
	*r = MessageRole(data)
	return nil
}

type MessageStatus string

const (
	StatusSuccess MessageStatus = "success"
	StatusError   MessageStatus = "error"
	StatusSkipped MessageStatus = "skipped"
)

func (s MessageStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *MessageStatus) UnmarshalText(data []byte) error {
	*s = MessageStatus(data)
	return nil
}

// Message is one immutable entry of a session transcript. Assistant messages
// carry the model that produced them and the outcome of the call.
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Round     int64         `json:"round"`
	Role      MessageRole   `json:"role"`
	ModelID   string        `json:"model_id,omitempty"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	CreatedAt int64         `json:"created_at"`
}

type CreateMessageParams struct {
	Round   int64         `json:"round"`
	Role    MessageRole   `json:"role"`
	ModelID string        `json:"model_id,omitempty"`
	Content string        `json:"content"`
	Status  MessageStatus `json:"status"`
}

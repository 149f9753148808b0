package proto

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *SessionStatus) UnmarshalText(data []byte) error {
	*s = SessionStatus(data)
	return nil
}

// Session is a multi-round discussion between a fixed, ordered set of models.
type Session struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Status       SessionStatus `json:"status"`
	CurrentRound int64         `json:"current_round"`
	Models       []string      `json:"models"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// SessionDetail is a session together with its full message history.
type SessionDetail struct {
	Session
	Messages []Message `json:"messages"`
}

type CreateSessionRequest struct {
	Models []string `json:"models"`
}

type UpdateSessionRequest struct {
	Title string `json:"title"`
}

type SetModelsRequest struct {
	Models []string `json:"models"`
}

// RoundRequest carries the user input that opens a round.
type RoundRequest struct {
	UserInput string `json:"user_input"`
}

// RoundResponse is returned by start and continue. The client is expected to
// open the session stream next.
type RoundResponse struct {
	Round   int64   `json:"round"`
	Message Message `json:"message"`
}

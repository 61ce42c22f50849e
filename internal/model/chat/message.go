package chat

import (
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderAgent Sender = "agent"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderBot, SenderAgent:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Sender) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown sender %q", string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sender) UnmarshalText(text []byte) error {
	parsed := Sender(text)
	if !parsed.Valid() {
		return fmt.Errorf("unknown sender %q", string(text))
	}
	*s = parsed
	return nil
}

// Message persists individual turns. Messages are append-only.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Sender      Sender    `json:"sender"`
	DisplayName string    `json:"displayName"`
	Content     string    `json:"content"`
	RawContent  string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

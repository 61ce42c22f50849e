package chat

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a support session.
type Status string

const (
	StatusActive     Status = "active"
	StatusHandedOver Status = "handed_over"
	StatusEnded      Status = "ended"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusHandedOver, StatusEnded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows moving from s to next.
// ended is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusHandedOver || next == StatusEnded
	case StatusHandedOver:
		return next == StatusEnded
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown session status %q", string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed := Status(text)
	if !parsed.Valid() {
		return fmt.Errorf("unknown session status %q", string(text))
	}
	*s = parsed
	return nil
}

// Session captures one customer conversation and its lifecycle.
type Session struct {
	ID             string     `json:"id"`
	Language       string     `json:"language"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	AccountID      string     `json:"accountId,omitempty"`
	Rating         int        `json:"rating,omitempty"`
	RatingNote     string     `json:"ratingNote,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	// WarnedAt is set once the idle warning was sent for the current idle period.
	WarnedAt *time.Time `json:"warnedAt,omitempty"`
	Version  int64      `json:"version"`
}

// Ended reports whether the session reached its terminal state.
func (s Session) Ended() bool {
	return s.Status == StatusEnded
}

// Touch advances LastActivityAt without ever moving it backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// IdleFor returns how long the session has been inactive at now.
func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Identity is the caller resolved by the transport layer. The zero value is anonymous.
type Identity struct {
	AccountID   string `json:"accountId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Anonymous reports whether no account was resolved.
func (i Identity) Anonymous() bool {
	return i.AccountID == ""
}

// ClampRating bounds a rating to the 1..5 scale.
func ClampRating(rating int) int {
	if rating < 1 {
		return 1
	}
	if rating > 5 {
		return 5
	}
	return rating
}

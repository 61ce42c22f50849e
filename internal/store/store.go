// Package store persists support sessions, their message log, and the
// read-only prompt template catalog.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/model/prompt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an update lost an optimistic-concurrency race.
var ErrConflict = errors.New("version conflict")

// SessionStore is the durable record of conversations.
type SessionStore interface {
	CreateSession(ctx context.Context, session *chat.Session) error
	GetSession(ctx context.Context, id string) (*chat.Session, error)
	// UpdateSession writes session if its Version still matches the stored row,
	// then increments session.Version.
	UpdateSession(ctx context.Context, session *chat.Session) error
	// ListSessions returns sessions newest first; an empty status lists all.
	ListSessions(ctx context.Context, status chat.Status, limit int) ([]*chat.Session, error)
	// ListIdleSessions returns non-ended sessions whose last activity is at or before cutoff.
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*chat.Session, error)
}

// MessageStore is the append-only message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *chat.Message) error
	// ListMessages returns messages oldest first. limit <= 0 returns all.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*chat.Message, error)
}

// TemplateStore is the catalog table backing prompt.Source.
type TemplateStore interface {
	prompt.Source
	UpsertTemplates(ctx context.Context, templates []prompt.Template) error
	ListTemplates(ctx context.Context, language string) ([]prompt.Template, error)
}

// Store groups every persistence concern of the support engine.
type Store interface {
	SessionStore
	MessageStore
	TemplateStore
	Close() error
}

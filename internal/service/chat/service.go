// Package chat owns the support session lifecycle: ingestion, handover,
// agent replies, rating and closing.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
	"github.com/zhouzirui/z-tavern/support/internal/store"
)

const maxUpdateAttempts = 3

var (
	ErrSessionNotFound   = fmt.Errorf("session %w", store.ErrNotFound)
	ErrSessionEnded      = errors.New("session has ended")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrEmptyText         = errors.New("text is required")
	ErrUnknownStatus     = errors.New("unknown session status")
)

// Repository is the persistence the lifecycle needs.
type Repository interface {
	store.SessionStore
	store.MessageStore
}

// Responder produces the bot answer for a user turn. It never fails.
type Responder interface {
	Respond(ctx context.Context, language, userText string) string
}

// FrameSink orders and delivers frames on a session channel.
type FrameSink interface {
	Send(frame broadcast.Frame)
	Stream(sessionID string, sender chat.Sender, displayName, text string)
}

// Options configures defaults of the lifecycle.
type Options struct {
	DefaultLanguage   string
	DefaultAgentLabel string
	// RetainRawPII keeps the unmasked user text next to the masked copy.
	RetainRawPII bool
	Now          func() time.Time
}

// Service encapsulates conversation state management.
type Service struct {
	repo      Repository
	responder Responder
	frames    FrameSink
	locks     *keyedMutex
	opts      Options
	logger    *zap.Logger
}

func NewService(repo Repository, responder Responder, frames FrameSink, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "vi"
	}
	if opts.DefaultAgentLabel == "" {
		opts.DefaultAgentLabel = "Nhân viên hỗ trợ"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:      repo,
		responder: responder,
		frames:    frames,
		locks:     newKeyedMutex(),
		opts:      opts,
		logger:    logger.Named("chat"),
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Millisecond)
}

// CreateSession provisions a new active session.
func (s *Service) CreateSession(ctx context.Context, language string, identity chat.Identity) (chat.Session, error) {
	if language == "" {
		language = s.opts.DefaultLanguage
	}
	now := s.now()
	session := chat.Session{
		ID:             uuid.NewString(),
		Language:       language,
		Status:         chat.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		AccountID:      identity.AccountID,
	}
	if err := s.repo.CreateSession(ctx, &session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("language", language),
		zap.Bool("anonymous", identity.Anonymous()))
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return *session, nil
}

// Transcript returns the session messages oldest first.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	stored, err := s.repo.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]chat.Message, len(stored))
	for i, msg := range stored {
		messages[i] = *msg
	}
	return messages, nil
}

// ListSessions returns sessions newest first; an empty status lists all of them.
func (s *Service) ListSessions(ctx context.Context, status chat.Status, limit int) ([]chat.Session, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownStatus, status)
	}
	stored, err := s.repo.ListSessions(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]chat.Session, len(stored))
	for i, session := range stored {
		sessions[i] = *session
	}
	return sessions, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*chat.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

// update re-reads the session, applies fn and writes it back with a version
// check, retrying on conflicts. fn reports whether it changed anything; an
// unchanged session is not written. Callers hold the session lock.
func (s *Service) update(ctx context.Context, sessionID string, fn func(*chat.Session) (bool, error)) (*chat.Session, bool, error) {
	for attempt := 1; ; attempt++ {
		session, err := s.load(ctx, sessionID)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(session)
		if err != nil || !changed {
			return session, false, err
		}

		err = s.repo.UpdateSession(ctx, session)
		if err == nil {
			return session, true, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrSessionNotFound
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxUpdateAttempts {
			return nil, false, fmt.Errorf("update session: %w", err)
		}
		s.logger.Debug("version conflict, retrying",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt))
	}
}

func (s *Service) appendMessage(ctx context.Context, msg *chat.Message) error {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("append %s message: %w", msg.Sender, err)
	}
	return nil
}

package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
)

// CloseSession ends a session. Closing an ended session does nothing.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	_, err := s.close(ctx, sessionID, func(*chat.Session) bool { return true })
	return err
}

// CloseIdle ends the session if it is still idle for at least threshold once
// its lock is held. It reports whether the session was closed.
func (s *Service) CloseIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	return s.close(ctx, sessionID, func(session *chat.Session) bool {
		return session.IdleFor(now) >= threshold
	})
}

// close is the single ended transition; eligible vetoes it on the fresh row.
func (s *Service) close(ctx context.Context, sessionID string, eligible func(*chat.Session) bool) (bool, error) {
	now := s.now()
	session, closed, err := s.update(ctx, sessionID, func(session *chat.Session) (bool, error) {
		if !session.Status.CanTransition(chat.StatusEnded) || !eligible(session) {
			return false, nil
		}
		session.Status = chat.StatusEnded
		session.EndedAt = &now
		return true, nil
	})
	if err != nil || !closed {
		return false, err
	}

	frame := broadcast.NewFrame(broadcast.FrameClosed, sessionID, localeFor(session.Language).closedNotice)
	frame.Sender = chat.SenderBot
	s.frames.Send(frame)

	s.logger.Info("session closed",
		zap.String("session_id", sessionID),
		zap.Duration("idle", now.Sub(session.LastActivityAt)))
	return true, nil
}

// WarnIdle sends the idle warning once per idle period. The warning does not
// count as activity. It reports whether a warning was sent.
func (s *Service) WarnIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	session, warned, err := s.update(ctx, sessionID, func(session *chat.Session) (bool, error) {
		if session.Ended() || session.WarnedAt != nil || session.IdleFor(now) < threshold {
			return false, nil
		}
		session.WarnedAt = &now
		return true, nil
	})
	if err != nil || !warned {
		return false, err
	}

	texts := localeFor(session.Language)
	if err := s.appendMessage(ctx, &chat.Message{
		SessionID:   sessionID,
		Sender:      chat.SenderBot,
		DisplayName: texts.botName,
		Content:     texts.idleWarning,
		RawContent:  texts.idleWarning,
		CreatedAt:   now,
	}); err != nil {
		s.clearWarning(ctx, sessionID, now)
		return false, err
	}

	frame := broadcast.NewFrame(broadcast.FrameNotice, sessionID, texts.idleWarning)
	frame.Sender = chat.SenderBot
	frame.DisplayName = texts.botName
	s.frames.Send(frame)
	return true, nil
}

// clearWarning undoes a warning mark whose message never got persisted, so the
// next sweep tries again.
func (s *Service) clearWarning(ctx context.Context, sessionID string, warnedAt time.Time) {
	_, _, err := s.update(context.WithoutCancel(ctx), sessionID, func(session *chat.Session) (bool, error) {
		if session.WarnedAt == nil || !session.WarnedAt.Equal(warnedAt) {
			return false, nil
		}
		session.WarnedAt = nil
		return true, nil
	})
	if err != nil {
		s.logger.Warn("failed to clear idle warning", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// RateSession stores a 1..5 rating and, when given, a note. Any status may be rated.
func (s *Service) RateSession(ctx context.Context, sessionID string, rating int, note *string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	_, _, err := s.update(ctx, sessionID, func(session *chat.Session) (bool, error) {
		session.Rating = chat.ClampRating(rating)
		if note != nil {
			session.RatingNote = *note
		}
		return true, nil
	})
	return err
}

package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
	"github.com/zhouzirui/z-tavern/support/internal/service/pii"
)

// IngestMessage records a user turn. Active sessions get a bot answer streamed
// back; handed-over sessions forward the text to the agent as a user frame.
func (s *Service) IngestMessage(ctx context.Context, sessionID, rawText, displayNameHint string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	// 调用方断开连接不应中断回复：AI 调用由自身超时约束
	ctx = context.WithoutCancel(ctx)

	now := s.now()
	session, _, err := s.update(ctx, sessionID, func(session *chat.Session) (bool, error) {
		if session.Ended() {
			return false, ErrSessionEnded
		}
		session.Touch(now)
		session.WarnedAt = nil
		return true, nil
	})
	if err != nil {
		return err
	}

	texts := localeFor(session.Language)
	displayName := strings.TrimSpace(displayNameHint)
	if displayName == "" {
		displayName = texts.guestName
	}

	masked := pii.Mask(rawText)
	raw := rawText
	if !s.opts.RetainRawPII {
		raw = masked
	}
	if err := s.appendMessage(ctx, &chat.Message{
		SessionID:   sessionID,
		Sender:      chat.SenderUser,
		DisplayName: displayName,
		Content:     masked,
		RawContent:  raw,
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	if session.Status == chat.StatusHandedOver {
		frame := broadcast.NewFrame(broadcast.FrameUser, sessionID, rawText)
		frame.Sender = chat.SenderUser
		frame.DisplayName = displayName
		s.frames.Send(frame)
		return nil
	}

	answer := s.responder.Respond(ctx, session.Language, masked)
	if err := s.appendMessage(ctx, &chat.Message{
		SessionID:   sessionID,
		Sender:      chat.SenderBot,
		DisplayName: texts.botName,
		Content:     answer,
		RawContent:  answer,
	}); err != nil {
		return err
	}

	s.frames.Stream(sessionID, chat.SenderBot, texts.botName, answer)
	return nil
}

// Handover moves an active session to a human agent and tells the client the
// assistant stops answering. Repeating it only refreshes activity.
func (s *Service) Handover(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	transitioned := false
	session, _, err := s.update(ctx, sessionID, func(session *chat.Session) (bool, error) {
		transitioned = false
		switch {
		case session.Status == chat.StatusHandedOver:
		case session.Status.CanTransition(chat.StatusHandedOver):
			session.Status = chat.StatusHandedOver
			transitioned = true
		default:
			return false, ErrInvalidTransition
		}
		session.Touch(now)
		return true, nil
	})
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	frame := broadcast.NewFrame(broadcast.FrameNotice, sessionID, localeFor(session.Language).handoverNotice)
	frame.Sender = chat.SenderBot
	s.frames.Send(frame)

	s.logger.Info("session handed over", zap.String("session_id", sessionID))
	return nil
}

// AgentReply posts a human agent's message as a single frame.
func (s *Service) AgentReply(ctx context.Context, sessionID, text string, actor chat.Identity) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	if _, _, err := s.update(ctx, sessionID, func(session *chat.Session) (bool, error) {
		if session.Ended() {
			return false, ErrSessionEnded
		}
		session.Touch(now)
		return true, nil
	}); err != nil {
		return err
	}

	displayName := strings.TrimSpace(actor.DisplayName)
	if displayName == "" {
		displayName = s.opts.DefaultAgentLabel
	}
	if err := s.appendMessage(ctx, &chat.Message{
		SessionID:   sessionID,
		Sender:      chat.SenderAgent,
		DisplayName: displayName,
		Content:     text,
		RawContent:  text,
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	frame := broadcast.NewFrame(broadcast.FrameAgent, sessionID, text)
	frame.Sender = chat.SenderAgent
	frame.DisplayName = displayName
	s.frames.Send(frame)
	return nil
}

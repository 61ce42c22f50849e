package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
)

// consoleFilter passes frames of sessions in one status. A session's status
// only changes alongside a notice or closed frame, so lookups are cached
// between those.
type consoleFilter struct {
	status   chat.Status
	lookup   func(ctx context.Context, sessionID string) (chat.Status, error)
	statuses map[string]chat.Status
}

func (f *consoleFilter) allow(ctx context.Context, frame broadcast.Frame) (bool, error) {
	current, known := f.statuses[frame.SessionID]
	if !known || frame.Kind == broadcast.FrameNotice {
		status, err := f.lookup(ctx, frame.SessionID)
		if err != nil {
			return false, err
		}
		current = status
		f.statuses[frame.SessionID] = status
	}

	// 关闭帧按关闭前的状态判断，之后不再跟踪该会话
	if frame.Kind == broadcast.FrameClosed {
		delete(f.statuses, frame.SessionID)
		return current == f.status || f.status == chat.StatusEnded, nil
	}
	return current == f.status, nil
}

// filterConsole forwards only the frames the filter allows. The returned
// channel closes when frames does or ctx ends.
func (h *Handler) filterConsole(ctx context.Context, frames <-chan broadcast.Frame, status chat.Status) <-chan broadcast.Frame {
	filter := &consoleFilter{
		status: status,
		lookup: func(ctx context.Context, sessionID string) (chat.Status, error) {
			session, err := h.chatSvc.GetSession(ctx, sessionID)
			if err != nil {
				return "", err
			}
			return session.Status, nil
		},
		statuses: make(map[string]chat.Status),
	}

	out := make(chan broadcast.Frame, cap(frames))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				allowed, err := filter.allow(ctx, frame)
				if err != nil {
					h.logger.Debug("console status lookup failed", zap.String("session_id", frame.SessionID), zap.Error(err))
					continue
				}
				if !allowed {
					continue
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

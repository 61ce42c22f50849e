package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
	chatService "github.com/zhouzirui/z-tavern/support/internal/service/chat"
	"github.com/zhouzirui/z-tavern/support/pkg/utils"
)

const sseHeartbeatInterval = 15 * time.Second

// Subscriber is the local frame hub as seen by transport handlers.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan broadcast.Frame, string)
	SubscribeAll(ctx context.Context) (<-chan broadcast.Frame, string)
}

// Handler delivers session frames to clients over WebSocket or Server-Sent Events.
type Handler struct {
	frames   Subscriber
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New creates a new stream handler
func New(frames Subscriber, chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		frames:  frames,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("stream"),
	}
}

// RegisterRoutes mounts the session channel endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleSessionSocket)
	r.Get("/stream/{sessionID}", h.handleSessionSSE)
	r.Get("/console/ws", h.handleConsoleSocket)
}

// handleSessionSSE streams one session's frames as Server-Sent Events until
// the client leaves or the session closes.
func (h *Handler) handleSessionSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.sessionExists(w, r, sessionID) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	frames, _ := h.frames.Subscribe(ctx, sessionID)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("sse stream opened", zap.String("session_id", sessionID))

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(frame.Kind), frame); err != nil {
				h.logger.Debug("sse write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
			if frame.Kind == broadcast.FrameClosed {
				return
			}
		}
	}
}

func (h *Handler) sessionExists(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	_, err := h.chatSvc.GetSession(r.Context(), sessionID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		h.logger.Error("load session failed", zap.String("session_id", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
	return false
}

package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/auth"
	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
	chatService "github.com/zhouzirui/z-tavern/support/internal/service/chat"
	"github.com/zhouzirui/z-tavern/support/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

type inboundMessage struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	DisplayName string `json:"displayName"`
}

// errorMessage is sent outside the frame protocol when a client request fails.
type errorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// socket serialises writes; gorilla connections allow one concurrent writer.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// handleSessionSocket pushes a session's frames to the client and accepts
// user messages sent over the same connection.
func (h *Handler) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.sessionExists(w, r, sessionID) {
		return
	}
	identity := auth.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("websocket opened", zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sock := &socket{conn: conn}
	frames, _ := h.frames.Subscribe(ctx, sessionID)
	go h.pingLoop(ctx, conn)
	go h.writeFrames(ctx, cancel, sock, frames, true)

	prepareRead(conn)
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			h.sendError(sock, "unsupported message")
			continue
		}
		displayName := msg.DisplayName
		if displayName == "" {
			displayName = identity.DisplayName
		}
		if err := h.chatSvc.IngestMessage(ctx, sessionID, msg.Text, displayName); err != nil {
			switch {
			case errors.Is(err, chatService.ErrSessionEnded):
				h.sendError(sock, "session has ended")
			case errors.Is(err, chatService.ErrSessionNotFound):
				h.sendError(sock, "session not found")
			default:
				h.logger.Error("ingest over websocket failed", zap.String("session_id", sessionID), zap.Error(err))
				h.sendError(sock, "internal error")
			}
		}
	}
}

// handleConsoleSocket streams frames of every session to a console. With
// ?status= only sessions currently in that status are forwarded; the staff
// console asks for handed_over.
func (h *Handler) handleConsoleSocket(w http.ResponseWriter, r *http.Request) {
	status := chat.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "unknown session status")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, _ := h.frames.SubscribeAll(ctx)
	if status != "" {
		frames = h.filterConsole(ctx, frames, status)
	}
	go h.pingLoop(ctx, conn)
	go h.writeFrames(ctx, cancel, &socket{conn: conn}, frames, false)

	prepareRead(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

// writeFrames forwards frames until the subscription ends. With closeOnEnd the
// socket is closed once a closed frame has been delivered.
func (h *Handler) writeFrames(ctx context.Context, cancel context.CancelFunc, sock *socket, frames <-chan broadcast.Frame, closeOnEnd bool) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := sock.writeJSON(frame); err != nil {
				h.logger.Debug("websocket write failed", zap.String("session_id", frame.SessionID), zap.Error(err))
				sock.conn.Close()
				return
			}
			if closeOnEnd && frame.Kind == broadcast.FrameClosed {
				sock.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeTimeout))
				sock.conn.Close()
				return
			}
		}
	}
}

func (h *Handler) sendError(sock *socket, message string) {
	if err := sock.writeJSON(errorMessage{Type: "error", Message: message, Timestamp: time.Now().UnixMilli()}); err != nil {
		h.logger.Debug("write error message failed", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func prepareRead(conn *websocket.Conn) {
	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
}

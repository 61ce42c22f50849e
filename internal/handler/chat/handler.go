package chat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/auth"
	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/support/internal/service/chat"
	"github.com/zhouzirui/z-tavern/support/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("chat_handler"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleListSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Get("/messages", h.handleTranscript)
			r.Post("/messages", h.handleIngestMessage)
			r.Post("/handover", h.handleHandover)
			r.Post("/close", h.handleClose)
			r.Post("/agent-replies", h.handleAgentReply)
			r.Post("/rating", h.handleRate)
		})
	})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), strings.TrimSpace(payload.Language), auth.FromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleListSessions 列出会话，staff 控制台通常按 handed_over 过滤
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), chat.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.Transcript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleIngestMessage 接收用户消息；回复通过会话频道异步推送
func (h *Handler) handleIngestMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text        string `json:"text"`
		DisplayName string `json:"displayName"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	displayName := payload.DisplayName
	if displayName == "" {
		displayName = auth.FromContext(r.Context()).DisplayName
	}

	if err := h.chatSvc.IngestMessage(r.Context(), chi.URLParam(r, "sessionID"), payload.Text, displayName); err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleHandover(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Handover(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAgentReply 人工客服回复，身份来自 bearer token
func (h *Handler) handleAgentReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := auth.FromContext(r.Context())
	if err := h.chatSvc.AgentReply(r.Context(), chi.URLParam(r, "sessionID"), payload.Text, actor); err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rating int     `json:"rating"`
		Note   *string `json:"note"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.RateSession(r.Context(), chi.URLParam(r, "sessionID"), payload.Rating, payload.Note); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondServiceError 将领域错误映射为HTTP状态码
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatService.ErrSessionEnded), errors.Is(err, chatService.ErrInvalidTransition):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrEmptyText), errors.Is(err, chatService.ErrUnknownStatus):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

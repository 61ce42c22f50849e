package templates

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/prompt"
	"github.com/zhouzirui/z-tavern/support/pkg/utils"
)

// Catalog 提供只读的提示词模板列表。
type Catalog interface {
	ListTemplates(ctx context.Context, language string) ([]prompt.Template, error)
}

// Handler 提示词模板的HTTP处理器
type Handler struct {
	catalog Catalog
	logger  *zap.Logger
}

// New 创建模板处理器
func New(catalog Catalog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{catalog: catalog, logger: logger.Named("templates_handler")}
}

// RegisterRoutes 注册模板相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/templates", h.handleListTemplates)
}

// handleListTemplates 列出模板，可按语言过滤
func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	language := strings.TrimSpace(r.URL.Query().Get("language"))
	templates, err := h.catalog.ListTemplates(r.Context(), language)
	if err != nil {
		h.logger.Error("list templates failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if templates == nil {
		templates = []prompt.Template{}
	}
	utils.RespondJSON(w, http.StatusOK, templates)
}

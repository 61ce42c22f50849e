package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/auth"
	"github.com/zhouzirui/z-tavern/support/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/support/internal/handler/stream"
	"github.com/zhouzirui/z-tavern/support/internal/handler/templates"
	middlewarePkg "github.com/zhouzirui/z-tavern/support/internal/middleware"
	chatService "github.com/zhouzirui/z-tavern/support/internal/service/chat"
	"github.com/zhouzirui/z-tavern/support/pkg/utils"
)

// Dependencies groups what the HTTP layer needs from the core.
type Dependencies struct {
	Chat      *chatService.Service
	Frames    stream.Subscriber
	Templates templates.Catalog
	Identity  *auth.Resolver
	Logger    *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(deps.Identity.Middleware)

	chatHandler := chat.New(deps.Chat, logger)
	streamHandler := stream.New(deps.Frames, deps.Chat, logger)
	templatesHandler := templates.New(deps.Templates, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		templatesHandler.RegisterRoutes(api)
	})

	return r
}

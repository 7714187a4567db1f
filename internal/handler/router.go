package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	assistHandler "github.com/ihubtech/livechat-server/internal/handler/assist"
	livechatHandler "github.com/ihubtech/livechat-server/internal/handler/livechat"
	streamHandler "github.com/ihubtech/livechat-server/internal/handler/stream"
	middlewarePkg "github.com/ihubtech/livechat-server/internal/middleware"
	assistService "github.com/ihubtech/livechat-server/internal/service/assist"
	livechatService "github.com/ihubtech/livechat-server/internal/service/livechat"
	"github.com/ihubtech/livechat-server/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(broker *livechatService.Broker, assistSvc *assistService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	livechatHandler.New(broker).RegisterRoutes(r)
	assistHandler.New(assistSvc).RegisterRoutes(r)

	streams := streamHandler.New(broker)
	r.Get("/livechat/stream", streams.HandleVisitor)
	r.Get("/livechat/admin/stream", streams.HandleAdmin)

	r.Get("/", handleIndex)

	return r
}

// handleIndex lists the API surface for quick manual checks.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"message": "Live Chat Server (broker + AI fallback)",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"liveChat": map[string]string{
				"requestSession": "POST /livechat/request",
				"clientSSE":      "GET /livechat/stream?sessionId=ID",
				"adminSSE":       "GET /livechat/admin/stream",
				"sendMessage":    "POST /livechat/send",
				"adminSend":      "POST /livechat/admin-send",
				"claimSession":   "POST /livechat/claim",
				"transfer":       "POST /livechat/transfer",
				"endSession":     "POST /livechat/end-session",
				"close":          "POST /livechat/close",
				"rating":         "POST /livechat/rating",
				"sessions":       "GET /livechat/sessions",
				"stats":          "GET /livechat/stats",
				"health":         "GET /health",
			},
			"ai": map[string]string{
				"chat": "POST /ai/chat",
			},
			"push": map[string]string{
				"register": "POST /push/register",
			},
		},
	})
}

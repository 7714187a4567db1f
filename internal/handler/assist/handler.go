package assist

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ihubtech/livechat-server/internal/service/assist"
	"github.com/ihubtech/livechat-server/pkg/utils"
)

// Handler exposes the AI FAQ responder.
type Handler struct {
	svc *assist.Service
}

// New creates the assist handler.
func New(svc *assist.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the responder endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ai/chat", h.handleChat)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgentType      string `json:"agent_type"`
		Message        string `json:"message"`
		ConversationID string `json:"conversation_id"`
		UserName       string `json:"user_name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	reply, err := h.svc.Respond(r.Context(), payload.AgentType, payload.Message)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	log.Printf("[assist] chat conversation=%s agent_type=%s source=%s", payload.ConversationID, reply.AgentType, reply.Source)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"reply":           reply.Reply,
		"agent_type":      reply.AgentType,
		"confidence":      reply.Confidence,
		"source":          reply.Source,
		"faq_count":       reply.FAQCount,
		"conversation_id": payload.ConversationID,
		"timestamp":       reply.Timestamp,
	})
}

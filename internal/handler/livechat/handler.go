package livechat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ihubtech/livechat-server/internal/model/livechat"
	service "github.com/ihubtech/livechat-server/internal/service/livechat"
	"github.com/ihubtech/livechat-server/pkg/utils"
)

// Handler exposes the session broker over HTTP.
type Handler struct {
	broker  *service.Broker
	started time.Time
}

// New creates the live-chat handler.
func New(broker *service.Broker) *Handler {
	return &Handler{broker: broker, started: time.Now()}
}

// RegisterRoutes mounts the broker operations.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/livechat/request", h.handleRequest)
	r.Post("/livechat/claim", h.handleClaim)
	r.Post("/livechat/send", h.handleSend)
	r.Post("/livechat/admin-send", h.handleAdminSend)
	r.Post("/livechat/transfer", h.handleTransfer)
	r.Post("/livechat/close", h.handleClose)
	r.Post("/livechat/end-session", h.handleEndSession)
	r.Post("/livechat/rating", h.handleRating)
	r.Get("/livechat/sessions", h.handleListSessions)
	r.Get("/livechat/session/{sessionID}", h.handleGetSession)
	r.Get("/livechat/session/{sessionID}/agent", h.handleGetAgent)
	r.Get("/livechat/session/{sessionID}/messages", h.handleGetMessages)
	r.Get("/livechat/history/{sessionID}", h.handleHistory)
	r.Get("/livechat/stats", h.handleStats)
	r.Get("/livechat/test-connection", h.handleTestConnection)
	r.Get("/health", h.handleHealth)
	r.Post("/push/register", h.handlePushRegister)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name            string             `json:"name"`
		Email           string             `json:"email"`
		RequestedRole   string             `json:"requestedRole"`
		InitialMessages []livechat.Message `json:"initialMessages"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	sessionID, timeout := h.broker.RequestSession(payload.Name, payload.Email, payload.RequestedRole, payload.InitialMessages)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"timeout":   timeout,
		"message":   "Live agent session created. Waiting for agent assignment...",
	})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		AgentName string `json:"agentName"`
		AgentRole string `json:"agentRole"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if err := h.broker.ClaimSession(payload.SessionID, payload.AgentName, payload.AgentRole); err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session claimed successfully",
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
		From      string `json:"from"`
		Name      string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if payload.From == "" {
		payload.From = "user"
	}

	if err := h.broker.SendMessage(payload.SessionID, payload.Text, payload.From, payload.Name); err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAdminSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
		AgentName string `json:"agentName"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if err := h.broker.SendMessage(payload.SessionID, payload.Text, "agent", payload.AgentName); err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message sent to client",
	})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID     string `json:"sessionId"`
		TargetRole    string `json:"targetRole"`
		TransferredBy string `json:"transferredBy"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	oldRole, err := h.broker.TransferSession(payload.SessionID, payload.TargetRole, payload.TransferredBy)
	if err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session transferred from " + oldRole + " to " + payload.TargetRole,
	})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if err := h.broker.CloseSession(payload.SessionID); err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		AgentName string `json:"agentName"`
		AgentRole string `json:"agentRole"`
		Reason    string `json:"reason"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if err := h.broker.EndSession(payload.SessionID, payload.AgentName, payload.AgentRole, payload.Reason); err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session ended successfully",
	})
}

func (h *Handler) handleRating(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID  string `json:"sessionId"`
		Rating     string `json:"rating"`
		RatingType string `json:"ratingType"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if err := h.broker.RateSession(payload.SessionID, payload.Rating, payload.RatingType); err != nil {
		respondBrokerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	list := h.broker.ListSessions(
		query.Get("role"),
		query.Get("includeTimedOut") == "true",
		query.Get("waiting") == "true",
	)
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, ok := h.broker.Store().Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}

	cfg := h.broker.Config()
	now := time.Now().UTC()
	remaining := session.TimeRemaining(now, cfg.ClaimTimeout)

	utils.RespondJSON(w, http.StatusOK, struct {
		livechat.Session
		TimeRemaining  int  `json:"timeRemaining"`
		IsUrgent       bool `json:"isUrgent"`
		MinutesWaiting int  `json:"minutesWaiting"`
	}{
		Session:        session,
		TimeRemaining:  int(remaining.Round(time.Second) / time.Second),
		IsUrgent:       remaining > 0 && remaining <= cfg.WarningThreshold,
		MinutesWaiting: int(session.Age(now) / time.Minute),
	})
}

// handleGetAgent resolves the assigned agent from memory first, then from
// the persisted conversation record for clients whose session already left
// the registry.
func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if session, ok := h.broker.Store().Get(sessionID); ok && session.AgentName != "" {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"agentName": session.AgentName,
			"sessionId": sessionID,
		})
		return
	}

	agentName, err := h.broker.Recorder().AgentName(r.Context(), sessionID)
	if err != nil || agentName == "" {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "Agent name not found for this session",
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"agentName": agentName,
		"sessionId": sessionID,
	})
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, ok := h.broker.Store().Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"sessionId":    sessionID,
		"visitorName":  session.VisitorName,
		"agentName":    session.AgentName,
		"status":       session.Status,
		"messages":     session.Messages,
		"createdAt":    session.CreatedAt,
		"lastActivity": session.LastActivity,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, ok := h.broker.Store().Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, session.Messages)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.broker.SessionStats())
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"serverTime":          time.Now().UTC(),
		"sessions":            h.broker.Store().Len(),
		"adminConnections":    h.broker.Streams().AdminCount(),
		"activeClientStreams": h.broker.Streams().SessionStreamCount(),
		"message":             "Live Chat Server is running correctly",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.broker.SessionStats()

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"totalSessions":       stats.Total,
		"waitingSessions":     stats.Waiting,
		"timedOutSessions":    stats.ByStatus["timed_out"],
		"claimedSessions":     stats.ByStatus["claimed"],
		"adminClients":        h.broker.Streams().AdminCount(),
		"activeClientStreams": h.broker.Streams().SessionStreamCount(),
		"uptime":              int(time.Since(h.started).Seconds()),
		"sessionTimeout":      int(h.broker.Config().ClaimTimeout.Seconds()),
		"timestamp":           time.Now().UTC(),
	})
}

func (h *Handler) handlePushRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Token == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "token is required")
		return
	}

	if err := h.broker.Recorder().RegisterPushToken(r.Context(), payload.Token); err != nil {
		// Registration is best effort, same as the other persistence paths.
		utils.RespondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// respondBrokerError maps broker sentinel errors to stable HTTP codes.
func respondBrokerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "not_found", "Session not found")
	case errors.Is(err, service.ErrAlreadyTimedOut):
		utils.RespondError(w, http.StatusBadRequest, "already_timed_out",
			"Session has already timed out. Please ask the user to start a new session.")
	case errors.Is(err, service.ErrAlreadyClaimed):
		utils.RespondError(w, http.StatusBadRequest, "already_claimed",
			"Session already claimed by another agent")
	case errors.Is(err, service.ErrInvalidRole):
		utils.RespondError(w, http.StatusBadRequest, "invalid_role", "Invalid target role")
	case errors.Is(err, service.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal", "Unexpected error")
	}
}

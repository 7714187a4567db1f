package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ihubtech/livechat-server/internal/model/livechat"
	service "github.com/ihubtech/livechat-server/internal/service/livechat"
	"github.com/ihubtech/livechat-server/pkg/utils"
)

// Handler serves the visitor and admin Server-Sent-Event streams. Each open
// connection owns one broadcaster subscription plus its own heartbeat timer;
// a failed write on either path tears the subscription down.
type Handler struct {
	broker *service.Broker
}

// New creates the stream handler.
func New(broker *service.Broker) *Handler {
	return &Handler{broker: broker}
}

// HandleVisitor serves GET /livechat/stream?sessionId=ID.
func (h *Handler) HandleVisitor(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid_input", "Session ID required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	log.Printf("[sse] visitor stream opened session=%s", sessionID)

	// Immediate resync frame so a reconnecting tab does not have to wait
	// for the next mutation.
	connected := livechat.Event{Type: livechat.EventConnected, SessionID: sessionID}
	if session, found := h.broker.Store().Get(sessionID); found {
		cfg := h.broker.Config()
		remaining := session.TimeRemaining(time.Now().UTC(), cfg.ClaimTimeout)
		connected.Status = session.Status
		connected.TimeRemaining = int(remaining.Round(time.Second) / time.Second)
	}
	if err := utils.SendSSEChunk(w, flusher, connected); err != nil {
		return
	}

	stream := h.broker.Streams().Subscribe(sessionID)
	defer stream.Close()

	heartbeat := time.NewTicker(h.broker.Config().HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] visitor stream closed session=%s", sessionID)
			return
		case <-stream.Done():
			return
		case <-heartbeat.C:
			event := livechat.Event{Type: livechat.EventHeartbeat, SessionID: sessionID, Timestamp: time.Now().UTC()}
			if session, found := h.broker.Store().Get(sessionID); found {
				event.Status = session.Status
			}
			if err := utils.SendSSEChunk(w, flusher, event); err != nil {
				return
			}
		case event := <-stream.Events():
			if err := utils.SendSSEChunk(w, flusher, event); err != nil {
				return
			}
		}
	}
}

// HandleAdmin serves GET /livechat/admin/stream.
func (h *Handler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	clientID := uuid.NewString()[:8]
	log.Printf("[sse] admin stream opened client=%s", clientID)

	if err := utils.SendSSEChunk(w, flusher, map[string]any{
		"type":      livechat.EventAdminConnected,
		"message":   "SSE Connected Successfully",
		"clientId":  clientID,
		"timestamp": time.Now().UTC(),
	}); err != nil {
		return
	}
	if err := utils.SendSSEChunk(w, flusher, h.initialData(clientID)); err != nil {
		return
	}

	stream := h.broker.Streams().SubscribeAdmin()
	defer stream.Close()

	heartbeat := time.NewTicker(h.broker.Config().HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] admin stream closed client=%s", clientID)
			return
		case <-stream.Done():
			return
		case <-heartbeat.C:
			if err := utils.SendSSEChunk(w, flusher, map[string]any{
				"type":             livechat.EventHeartbeat,
				"clientId":         clientID,
				"timestamp":        time.Now().UTC(),
				"adminConnections": h.broker.Streams().AdminCount(),
			}); err != nil {
				return
			}
		case event := <-stream.Events():
			if err := utils.SendSSEChunk(w, flusher, event); err != nil {
				return
			}
		}
	}
}

// initialData snapshots the registry for a freshly connected dashboard.
func (h *Handler) initialData(clientID string) map[string]any {
	waiting := h.broker.ListSessions("", false, true)

	var timedOut int
	for _, s := range h.broker.ListSessions("", true, false) {
		if s.Status == livechat.StatusTimedOut {
			timedOut++
		}
	}

	return map[string]any{
		"type":             livechat.EventInitialData,
		"waitingSessions":  len(waiting),
		"timedOutSessions": timedOut,
		"totalSessions":    h.broker.Store().Len(),
		"sessions":         waiting,
		"clientId":         clientID,
	}
}

package livechat

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/ihubtech/livechat-server/internal/config"
	"github.com/ihubtech/livechat-server/internal/model/livechat"
	"github.com/ihubtech/livechat-server/internal/persistence"
)

// Sweeper drives the timeout state machine on two independent ticks: a full
// sweep that times out unclaimed sessions and expires inactive ones, and a
// faster warning sweep that pings the dashboards once per session when the
// claim window is nearly gone.
type Sweeper struct {
	cfg      config.LiveChatConfig
	store    *SessionStore
	streams  *Broadcaster
	recorder persistence.Recorder
}

// NewSweeper wires the sweeper to the same registry and broadcaster the
// broker uses; its transitions hold the same lock as request handlers.
func NewSweeper(cfg config.LiveChatConfig, store *SessionStore, streams *Broadcaster, recorder persistence.Recorder) *Sweeper {
	return &Sweeper{cfg: cfg, store: store, streams: streams, recorder: recorder}
}

// Run ticks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	full := time.NewTicker(w.cfg.SweepInterval)
	warn := time.NewTicker(w.cfg.WarningSweepInterval)
	defer full.Stop()
	defer warn.Stop()

	log.Printf("[sweeper] running, full sweep every %s, warning sweep every %s", w.cfg.SweepInterval, w.cfg.WarningSweepInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopped")
			return
		case <-full.C:
			w.Sweep(time.Now().UTC())
		case <-warn.C:
			w.WarnApproaching(time.Now().UTC())
		}
	}
}

// Sweep runs one full pass. Waiting sessions past the claim window become
// timed_out and are retained for the dashboards; sessions of any status past
// the inactivity window are expired and removed. The two transitions are
// mutually exclusive within a pass since expiry only applies far beyond the
// claim window.
func (w *Sweeper) Sweep(now time.Time) {
	var timedOut, expired int

	for _, s := range w.store.List() {
		age := s.Age(now)

		if s.Status == livechat.StatusWaiting && s.AgentName == "" && age > w.cfg.ClaimTimeout {
			if w.timeOut(s.ID, now) {
				timedOut++
			}
			continue
		}

		if age > w.cfg.InactivityTimeout {
			w.expire(s, now)
			expired++
		}
	}

	if timedOut > 0 || expired > 0 {
		log.Printf("[sweeper] timed out %d sessions, expired %d sessions", timedOut, expired)
	}
}

// WarnApproaching runs one warning pass: for every unclaimed session whose
// remaining claim time has dropped inside the warning threshold, broadcast a
// session_warning exactly once.
func (w *Sweeper) WarnApproaching(now time.Time) {
	for _, s := range w.store.List() {
		if s.AgentName != "" || s.Status != livechat.StatusWaiting || s.WarningSent {
			continue
		}

		remaining := s.TimeRemaining(now, w.cfg.ClaimTimeout)
		if remaining <= 0 || remaining > w.cfg.WarningThreshold {
			continue
		}

		sessionID := s.ID
		marked := false
		err := w.store.Update(sessionID, func(live *livechat.Session) error {
			// Re-check under the lock; a claim or an earlier warning may
			// have landed since the snapshot.
			if live.WarningSent || live.AgentName != "" || live.Status != livechat.StatusWaiting {
				return nil
			}
			live.WarningSent = true
			marked = true
			return nil
		})
		if err != nil || !marked {
			continue
		}

		seconds := int(math.Ceil(remaining.Seconds()))
		w.streams.NotifyAdmins(livechat.Event{
			Type:             livechat.EventSessionWarning,
			SessionID:        sessionID,
			VisitorName:      s.VisitorName,
			SecondsRemaining: seconds,
			Message:          "Session is about to time out",
			Timestamp:        now,
		})
		log.Printf("[sweeper] session %s will time out in %ds", sessionID, seconds)
	}
}

// timeOut transitions a waiting session to timed_out. The session is kept
// so the dashboards can inspect it until the inactivity sweep removes it.
func (w *Sweeper) timeOut(sessionID string, now time.Time) bool {
	var visitorName string
	marked := false
	err := w.store.Update(sessionID, func(s *livechat.Session) error {
		// Re-check under the lock; the session may have been claimed since
		// the snapshot.
		if s.Status != livechat.StatusWaiting || s.AgentName != "" {
			return nil
		}
		s.Status = livechat.StatusTimedOut
		s.TimeoutAt = now
		visitorName = s.VisitorName
		marked = true
		return nil
	})
	if err != nil || !marked {
		// Claimed or deleted between the snapshot and the lock.
		return false
	}

	w.streams.Push(sessionID, livechat.Event{
		Type:      livechat.EventTimeout,
		SessionID: sessionID,
		Message:   "No agents were available to connect with you. Please try again later or leave a message.",
		Timestamp: now,
	})
	w.streams.NotifyAdmins(livechat.Event{
		Type:        livechat.EventSessionTimeout,
		SessionID:   sessionID,
		VisitorName: visitorName,
		Reason:      "No agent claimed within the claim window",
		Timestamp:   now,
	})

	go func() {
		ctx, cancel := persistence.Background()
		defer cancel()
		if err := w.recorder.LogEvent(ctx, sessionID, "timeout", "No agent claimed within the claim window"); err != nil {
			log.Printf("[sweeper] log timeout failed: %v", err)
		}
	}()
	return true
}

// expire removes a session past the inactivity window, whatever its status.
func (w *Sweeper) expire(s livechat.Session, now time.Time) {
	w.streams.NotifyAdmins(livechat.Event{
		Type:        livechat.EventSessionExpired,
		SessionID:   s.ID,
		VisitorName: s.VisitorName,
		Timestamp:   now,
	})

	w.store.Delete(s.ID)
	w.streams.DropSession(s.ID)

	sessionID := s.ID
	go func() {
		ctx, cancel := persistence.Background()
		defer cancel()
		if err := w.recorder.LogEvent(ctx, sessionID, "expired", "Session expired after inactivity"); err != nil {
			log.Printf("[sweeper] log expiry failed: %v", err)
		}
	}()
}

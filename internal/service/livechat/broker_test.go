package livechat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ihubtech/livechat-server/internal/config"
	model "github.com/ihubtech/livechat-server/internal/model/livechat"
	"github.com/ihubtech/livechat-server/internal/notify"
	"github.com/ihubtech/livechat-server/internal/persistence"
	livechat "github.com/ihubtech/livechat-server/internal/service/livechat"
)

// recorderSpy captures collaborator calls so tests can assert on the async
// side effects the broker dispatches after releasing the registry lock.
type recorderSpy struct {
	persistence.Noop

	mu         sync.Mutex
	claims     []string
	transcript []string
	events     []string
	ratings    []string
	ends       []string
}

func (r *recorderSpy) RecordClaim(_ context.Context, sessionID, agentName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, sessionID+":"+agentName)
	return nil
}

func (r *recorderSpy) AppendTranscript(_ context.Context, _, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = append(r.transcript, line)
	return nil
}

func (r *recorderSpy) LogEvent(_ context.Context, _, action, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, action)
	return nil
}

func (r *recorderSpy) RecordEnd(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, sessionID)
	return nil
}

func (r *recorderSpy) RecordRating(_ context.Context, _, rating, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratings = append(r.ratings, rating)
	return nil
}

// waitFor polls predicate until it holds or the deadline lapses. Broker side
// effects run in goroutines, so assertions on the spy need a grace period.
func waitFor(t *testing.T, predicate func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func testConfig() config.LiveChatConfig {
	return config.LiveChatConfig{
		ClaimTimeout:         2 * time.Minute,
		InactivityTimeout:    30 * time.Minute,
		WarningThreshold:     30 * time.Second,
		SweepInterval:        30 * time.Second,
		WarningSweepInterval: 10 * time.Second,
		HeartbeatInterval:    25 * time.Second,
		Roles:                []string{"sales", "consultant", "support", "account"},
	}
}

func newTestBroker() (*livechat.Broker, *recorderSpy) {
	spy := &recorderSpy{}
	store := livechat.NewSessionStore()
	streams := livechat.NewBroadcaster()
	return livechat.NewBroker(testConfig(), store, streams, spy, notify.Noop{}), spy
}

func TestRequestSessionDefaults(t *testing.T) {
	broker, _ := newTestBroker()

	id, timeoutSecs := broker.RequestSession("", "", "", nil)
	if id == "" {
		t.Fatal("expected generated session id")
	}
	if timeoutSecs != 120 {
		t.Fatalf("expected 120s claim window, got %d", timeoutSecs)
	}

	session, ok := broker.Store().Get(id)
	if !ok {
		t.Fatal("session not registered")
	}
	if session.VisitorName != "Guest" {
		t.Fatalf("empty name should default to Guest, got %q", session.VisitorName)
	}
	if session.RequestedRole != "support" {
		t.Fatalf("empty role should default to support, got %q", session.RequestedRole)
	}
	if session.Status != model.StatusWaiting {
		t.Fatalf("new session should wait, got %q", session.Status)
	}
}

func TestRequestSessionNullName(t *testing.T) {
	broker, _ := newTestBroker()

	id, _ := broker.RequestSession("null", "", "Sales", nil)
	session, _ := broker.Store().Get(id)
	if session.VisitorName != "Guest" {
		t.Fatalf("literal null should default to Guest, got %q", session.VisitorName)
	}
	if session.RequestedRole != "sales" {
		t.Fatalf("role should lowercase, got %q", session.RequestedRole)
	}
}

func TestRequestSessionBroadcastsNewSession(t *testing.T) {
	broker, _ := newTestBroker()
	admin := broker.Streams().SubscribeAdmin()
	defer admin.Close()

	id, _ := broker.RequestSession("Alice", "alice@example.com", "sales", nil)

	select {
	case event := <-admin.Events():
		if event.Type != model.EventNewSession || event.SessionID != id {
			t.Fatalf("unexpected admin event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("new_session event not broadcast")
	}
}

func TestClaimSession(t *testing.T) {
	broker, spy := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	if err := broker.ClaimSession(id, "Bob", "Support"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	session, _ := broker.Store().Get(id)
	if session.AgentName != "Bob" || session.AssignedRole != "support" {
		t.Fatalf("agent binding wrong: %+v", session)
	}
	if session.Status != model.StatusClaimed || session.ClaimedAt == nil {
		t.Fatalf("claim state wrong: %+v", session)
	}
	if len(session.Messages) != 1 || session.Messages[0].From != "agent" {
		t.Fatalf("welcome message missing: %+v", session.Messages)
	}
	if !strings.Contains(session.Messages[0].Text, "Bob") {
		t.Fatalf("welcome should name the agent: %q", session.Messages[0].Text)
	}

	waitFor(t, func() bool {
		spy.mu.Lock()
		defer spy.mu.Unlock()
		return len(spy.claims) == 1
	})
}

func TestClaimSessionExactlyOnce(t *testing.T) {
	broker, _ := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	const contenders = 8
	errs := make(chan error, contenders)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < contenders; i++ {
		agent := string(rune('A' + i))
		go func() {
			start.Wait()
			errs <- broker.ClaimSession(id, "Agent "+agent, "support")
		}()
	}
	start.Done()

	var won, lost int
	for i := 0; i < contenders; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, livechat.ErrAlreadyClaimed):
			lost++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if won != 1 || lost != contenders-1 {
		t.Fatalf("claim not exactly-once: won=%d lost=%d", won, lost)
	}
}

func TestClaimSessionValidation(t *testing.T) {
	broker, _ := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	if err := broker.ClaimSession("", "Bob", "support"); !errors.Is(err, livechat.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := broker.ClaimSession(id, "  ", "support"); !errors.Is(err, livechat.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := broker.ClaimSession("missing", "Bob", "support"); !errors.Is(err, livechat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimSessionRejectsTimedOut(t *testing.T) {
	broker, _ := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	if err := broker.Store().Update(id, func(s *model.Session) error {
		s.Status = model.StatusTimedOut
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := broker.ClaimSession(id, "Bob", "support"); !errors.Is(err, livechat.ErrAlreadyTimedOut) {
		t.Fatalf("expected ErrAlreadyTimedOut, got %v", err)
	}
}

func TestSendMessageRoutesByDirection(t *testing.T) {
	broker, spy := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)
	if err := broker.ClaimSession(id, "Bob", "support"); err != nil {
		t.Fatal(err)
	}

	visitor := broker.Streams().Subscribe(id)
	defer visitor.Close()
	admin := broker.Streams().SubscribeAdmin()
	defer admin.Close()

	if err := broker.SendMessage(id, "here is the fix", "agent", ""); err != nil {
		t.Fatal(err)
	}
	select {
	case event := <-visitor.Events():
		if event.Type != model.EventMessage || event.Text != "here is the fix" || event.Name != "Bob" {
			t.Fatalf("unexpected visitor frame: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("agent message not pushed to visitor")
	}

	if err := broker.SendMessage(id, "thanks!", "user", ""); err != nil {
		t.Fatal(err)
	}
	select {
	case event := <-admin.Events():
		if event.Type != model.EventMessage || event.Text != "thanks!" || event.Name != "Alice" {
			t.Fatalf("unexpected admin frame: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("visitor message not broadcast to admins")
	}

	session, _ := broker.Store().Get(id)
	if len(session.Messages) != 3 {
		t.Fatalf("expected welcome + 2 turns, got %d", len(session.Messages))
	}
	if session.Messages[1].Text != "here is the fix" || session.Messages[2].Text != "thanks!" {
		t.Fatalf("messages out of order: %+v", session.Messages)
	}

	waitFor(t, func() bool {
		spy.mu.Lock()
		defer spy.mu.Unlock()
		return len(spy.transcript) == 2
	})
	spy.mu.Lock()
	defer spy.mu.Unlock()
	if !strings.HasPrefix(spy.transcript[0], "[Bob - ") || !strings.HasSuffix(spy.transcript[0], "here is the fix\n") {
		t.Fatalf("transcript line format wrong: %q", spy.transcript[0])
	}
}

func TestSendMessageValidation(t *testing.T) {
	broker, _ := newTestBroker()

	if err := broker.SendMessage("", "hi", "user", ""); !errors.Is(err, livechat.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := broker.SendMessage("missing", "hi", "user", ""); !errors.Is(err, livechat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransferSessionRequeues(t *testing.T) {
	broker, _ := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)
	if err := broker.ClaimSession(id, "Bob", "support"); err != nil {
		t.Fatal(err)
	}

	oldRole, err := broker.TransferSession(id, "sales", "Bob")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if oldRole != "support" {
		t.Fatalf("expected old role support, got %q", oldRole)
	}

	session, _ := broker.Store().Get(id)
	if session.RequestedRole != "sales" {
		t.Fatalf("role not updated: %q", session.RequestedRole)
	}
	if session.AgentName != "" || session.AssignedRole != "" || session.ClaimedAt != nil {
		t.Fatalf("agent binding not cleared: %+v", session)
	}
	if session.Status != model.StatusWaiting {
		t.Fatalf("session should re-enter waiting, got %q", session.Status)
	}

	// The session is claimable again after the hand-off.
	if err := broker.ClaimSession(id, "Carol", "sales"); err != nil {
		t.Fatalf("reclaim after transfer failed: %v", err)
	}
}

func TestTransferSessionInvalidRole(t *testing.T) {
	broker, _ := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	if _, err := broker.TransferSession(id, "plumbing", "Bob"); !errors.Is(err, livechat.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := broker.TransferSession("missing", "sales", "Bob"); !errors.Is(err, livechat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseSessionRemoves(t *testing.T) {
	broker, spy := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	visitor := broker.Streams().Subscribe(id)

	if err := broker.CloseSession(id); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, ok := broker.Store().Get(id); ok {
		t.Fatal("closed session should be deleted")
	}

	var sawClosed bool
	for !sawClosed {
		select {
		case event := <-visitor.Events():
			if event.Type == model.EventSessionClosed {
				if event.Status != model.StatusEnded {
					t.Fatalf("terminal frame should carry ended status: %+v", event)
				}
				sawClosed = true
			}
		case <-time.After(time.Second):
			t.Fatal("session_closed event not delivered")
		}
	}
	select {
	case <-visitor.Done():
	case <-time.After(time.Second):
		t.Fatal("visitor stream should be dropped with the session")
	}

	waitFor(t, func() bool {
		spy.mu.Lock()
		defer spy.mu.Unlock()
		return len(spy.ends) == 1
	})

	if err := broker.CloseSession(id); !errors.Is(err, livechat.ErrNotFound) {
		t.Fatalf("second close should report ErrNotFound, got %v", err)
	}
}

func TestEndSessionDefaults(t *testing.T) {
	broker, _ := newTestBroker()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	visitor := broker.Streams().Subscribe(id)
	admin := broker.Streams().SubscribeAdmin()
	defer admin.Close()

	if err := broker.EndSession(id, "", "", ""); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	select {
	case event := <-visitor.Events():
		if event.Type != model.EventAgentEnded {
			t.Fatalf("unexpected visitor event: %+v", event)
		}
		if !strings.Contains(event.Message, "Admin") {
			t.Fatalf("agent name should default to Admin: %q", event.Message)
		}
		if event.Reason != "Chat ended by agent" {
			t.Fatalf("reason should default: %q", event.Reason)
		}
		if event.Status != model.StatusEnded {
			t.Fatalf("terminal frame should carry ended status: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("agent_ended event not delivered")
	}

	select {
	case event := <-admin.Events():
		if event.Type != model.EventSessionEnded || event.EndedBy != "Admin" {
			t.Fatalf("unexpected admin event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("session_ended event not broadcast")
	}

	if _, ok := broker.Store().Get(id); ok {
		t.Fatal("ended session should be deleted")
	}
}

func TestRateSessionNormalizes(t *testing.T) {
	broker, spy := newTestBroker()

	if err := broker.RateSession("s1", "Amazing!!", "Good"); err != nil {
		t.Fatalf("rate failed: %v", err)
	}
	waitFor(t, func() bool {
		spy.mu.Lock()
		defer spy.mu.Unlock()
		return len(spy.ratings) == 1
	})
	spy.mu.Lock()
	got := spy.ratings[0]
	spy.mu.Unlock()
	if got != "Not Rated" {
		t.Fatalf("unknown rating should normalize to Not Rated, got %q", got)
	}

	if err := broker.RateSession("", "Good", "Good"); !errors.Is(err, livechat.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListSessionsFilters(t *testing.T) {
	broker, _ := newTestBroker()
	supportID, _ := broker.RequestSession("Alice", "", "support", nil)
	salesID, _ := broker.RequestSession("Bob", "", "sales", nil)
	claimedID, _ := broker.RequestSession("Carol", "", "support", nil)
	if err := broker.ClaimSession(claimedID, "Dave", "support"); err != nil {
		t.Fatal(err)
	}
	timedOutID, _ := broker.RequestSession("Erin", "", "support", nil)
	if err := broker.Store().Update(timedOutID, func(s *model.Session) error {
		s.Status = model.StatusTimedOut
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ids := func(list []model.Summary) map[string]bool {
		set := make(map[string]bool, len(list))
		for _, s := range list {
			set[s.ID] = true
		}
		return set
	}

	all := ids(broker.ListSessions("all", true, false))
	if len(all) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(all))
	}

	support := ids(broker.ListSessions("support", false, false))
	if support[salesID] || support[timedOutID] || !support[supportID] || !support[claimedID] {
		t.Fatalf("role filter wrong: %v", support)
	}

	waiting := ids(broker.ListSessions("", false, true))
	if waiting[claimedID] || !waiting[supportID] || !waiting[salesID] {
		t.Fatalf("waiting-only filter wrong: %v", waiting)
	}
}

func TestSessionStats(t *testing.T) {
	broker, _ := newTestBroker()
	_, _ = broker.RequestSession("Alice", "", "support", nil)
	claimedID, _ := broker.RequestSession("Bob", "", "sales", nil)
	if err := broker.ClaimSession(claimedID, "Carol", "sales"); err != nil {
		t.Fatal(err)
	}
	timedOutID, _ := broker.RequestSession("Erin", "", "support", nil)
	if err := broker.Store().Update(timedOutID, func(s *model.Session) error {
		s.Status = model.StatusTimedOut
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	stats := broker.SessionStats()
	if stats.Total != 3 {
		t.Fatalf("total wrong: %d", stats.Total)
	}
	if stats.Waiting != 1 || stats.Active != 1 {
		t.Fatalf("waiting/active wrong: %+v", stats)
	}
	if stats.ByStatus["timed_out"] != 1 || stats.ByStatus["claimed"] != 1 || stats.ByStatus["waiting"] != 1 {
		t.Fatalf("status counters wrong: %+v", stats.ByStatus)
	}
	if stats.ByRole["support"] != 2 || stats.ByRole["sales"] != 1 {
		t.Fatalf("role counters wrong: %+v", stats.ByRole)
	}
}

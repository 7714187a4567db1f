package livechat_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/ihubtech/livechat-server/internal/model/livechat"
	"github.com/ihubtech/livechat-server/internal/notify"
	livechat "github.com/ihubtech/livechat-server/internal/service/livechat"
)

func newTestSweeper() (*livechat.Sweeper, *livechat.SessionStore, *livechat.Broadcaster) {
	store := livechat.NewSessionStore()
	streams := livechat.NewBroadcaster()
	return livechat.NewSweeper(testConfig(), store, streams, &recorderSpy{}), store, streams
}

func TestSweepTimesOutUnclaimed(t *testing.T) {
	sweeper, store, streams := newTestSweeper()
	now := time.Now().UTC()
	store.Create(newWaitingSession("s1", now.Add(-3*time.Minute)))

	visitor := streams.Subscribe("s1")
	defer visitor.Close()
	admin := streams.SubscribeAdmin()
	defer admin.Close()

	sweeper.Sweep(now)

	session, ok := store.Get("s1")
	if !ok {
		t.Fatal("timed-out session should be retained")
	}
	if session.Status != model.StatusTimedOut {
		t.Fatalf("expected timed_out, got %q", session.Status)
	}
	if !session.TimeoutAt.Equal(now) {
		t.Fatalf("TimeoutAt should record the sweep time, got %v", session.TimeoutAt)
	}

	select {
	case event := <-visitor.Events():
		if event.Type != model.EventTimeout {
			t.Fatalf("unexpected visitor event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("visitor timeout event not delivered")
	}
	select {
	case event := <-admin.Events():
		if event.Type != model.EventSessionTimeout || event.SessionID != "s1" {
			t.Fatalf("unexpected admin event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("admin session_timeout event not delivered")
	}
}

func TestSweepLeavesFreshAndClaimedSessions(t *testing.T) {
	sweeper, store, streams := newTestSweeper()
	now := time.Now().UTC()

	store.Create(newWaitingSession("fresh", now.Add(-30*time.Second)))

	claimed := newWaitingSession("claimed", now.Add(-10*time.Minute))
	claimed.Status = model.StatusClaimed
	claimed.AgentName = "Bob"
	store.Create(claimed)

	admin := streams.SubscribeAdmin()
	defer admin.Close()

	sweeper.Sweep(now)

	fresh, _ := store.Get("fresh")
	if fresh.Status != model.StatusWaiting {
		t.Fatalf("fresh session should stay waiting, got %q", fresh.Status)
	}
	got, _ := store.Get("claimed")
	if got.Status != model.StatusClaimed {
		t.Fatalf("claimed session must not time out, got %q", got.Status)
	}
	select {
	case event := <-admin.Events():
		t.Fatalf("no transition should be broadcast, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSweepExpiresInactive(t *testing.T) {
	sweeper, store, streams := newTestSweeper()
	now := time.Now().UTC()

	stale := newWaitingSession("stale", now.Add(-31*time.Minute))
	stale.Status = model.StatusTimedOut
	store.Create(stale)

	visitor := streams.Subscribe("stale")
	admin := streams.SubscribeAdmin()
	defer admin.Close()

	sweeper.Sweep(now)

	if _, ok := store.Get("stale"); ok {
		t.Fatal("expired session should be deleted")
	}
	select {
	case event := <-admin.Events():
		if event.Type != model.EventSessionExpired || event.SessionID != "stale" {
			t.Fatalf("unexpected admin event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("session_expired event not delivered")
	}
	select {
	case <-visitor.Done():
	case <-time.After(time.Second):
		t.Fatal("visitor stream should be dropped on expiry")
	}
}

func TestSweepExpiresClaimedPastInactivity(t *testing.T) {
	sweeper, store, _ := newTestSweeper()
	now := time.Now().UTC()

	old := newWaitingSession("old", now.Add(-31*time.Minute))
	old.Status = model.StatusClaimed
	old.AgentName = "Bob"
	store.Create(old)

	sweeper.Sweep(now)

	if _, ok := store.Get("old"); ok {
		t.Fatal("inactivity expiry applies regardless of status")
	}
}

func TestSweepTimeoutBeforeExpiry(t *testing.T) {
	sweeper, store, _ := newTestSweeper()
	now := time.Now().UTC()

	// Ancient but still waiting: the pass that first sees it times it out;
	// only the following pass may expire it.
	store.Create(newWaitingSession("ancient", now.Add(-45*time.Minute)))

	sweeper.Sweep(now)
	session, ok := store.Get("ancient")
	if !ok {
		t.Fatal("first pass should retain the session as timed_out")
	}
	if session.Status != model.StatusTimedOut {
		t.Fatalf("expected timed_out after first pass, got %q", session.Status)
	}

	sweeper.Sweep(now)
	if _, ok := store.Get("ancient"); ok {
		t.Fatal("second pass should expire the session")
	}
}

func TestClaimRejectedAfterSweepTimeout(t *testing.T) {
	spy := &recorderSpy{}
	store := livechat.NewSessionStore()
	streams := livechat.NewBroadcaster()
	broker := livechat.NewBroker(testConfig(), store, streams, spy, notify.Noop{})
	sweeper := livechat.NewSweeper(testConfig(), store, streams, spy)

	id, _ := broker.RequestSession("Alice", "", "support", nil)
	if err := store.Update(id, func(s *model.Session) error {
		s.CreatedAt = s.CreatedAt.Add(-3 * time.Minute)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	sweeper.Sweep(time.Now().UTC())

	if err := broker.ClaimSession(id, "Bob", "support"); !errors.Is(err, livechat.ErrAlreadyTimedOut) {
		t.Fatalf("expected ErrAlreadyTimedOut, got %v", err)
	}
}

func TestWarnApproachingFiresOnce(t *testing.T) {
	sweeper, store, streams := newTestSweeper()
	now := time.Now().UTC()

	// 20s of the 2m claim window left, inside the 30s warning threshold.
	store.Create(newWaitingSession("s1", now.Add(-100*time.Second)))

	admin := streams.SubscribeAdmin()
	defer admin.Close()

	sweeper.WarnApproaching(now)

	select {
	case event := <-admin.Events():
		if event.Type != model.EventSessionWarning || event.SessionID != "s1" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.SecondsRemaining <= 0 || event.SecondsRemaining > 30 {
			t.Fatalf("seconds remaining out of range: %d", event.SecondsRemaining)
		}
	case <-time.After(time.Second):
		t.Fatal("session_warning not delivered")
	}

	sweeper.WarnApproaching(now.Add(5 * time.Second))
	select {
	case event := <-admin.Events():
		t.Fatalf("warning should fire once per session, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWarnApproachingSkipsOutsideWindow(t *testing.T) {
	sweeper, store, streams := newTestSweeper()
	now := time.Now().UTC()

	store.Create(newWaitingSession("early", now.Add(-30*time.Second)))
	store.Create(newWaitingSession("late", now.Add(-3*time.Minute)))

	claimed := newWaitingSession("claimed", now.Add(-100*time.Second))
	claimed.Status = model.StatusClaimed
	claimed.AgentName = "Bob"
	store.Create(claimed)

	admin := streams.SubscribeAdmin()
	defer admin.Close()

	sweeper.WarnApproaching(now)

	select {
	case event := <-admin.Events():
		t.Fatalf("no session is inside the warning window, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ihubtech/livechat-server/internal/config"
	model "github.com/ihubtech/livechat-server/internal/model/livechat"
	"github.com/ihubtech/livechat-server/internal/notify"
	"github.com/ihubtech/livechat-server/internal/persistence"
	service "github.com/ihubtech/livechat-server/internal/service/livechat"
)

func newStreamHandler() (*Handler, *service.Broker) {
	cfg := config.LiveChatConfig{
		ClaimTimeout:      2 * time.Minute,
		WarningThreshold:  30 * time.Second,
		HeartbeatInterval: time.Hour,
		Roles:             []string{"sales", "support"},
	}
	broker := service.NewBroker(cfg, service.NewSessionStore(), service.NewBroadcaster(), persistence.Noop{}, notify.Noop{})
	return New(broker), broker
}

// serveUntil runs an SSE handler with a cancelable request, cancels after
// stop fires, and returns the decoded frames that were written.
func serveUntil(t *testing.T, handle http.HandlerFunc, target string, stop func(cancel context.CancelFunc)) []map[string]any {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handle(rec, req)
		close(done)
	}()

	stop(cancel)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after cancellation")
	}

	var frames []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestVisitorStreamRequiresSessionID(t *testing.T) {
	handler, _ := newStreamHandler()

	rec := httptest.NewRecorder()
	handler.HandleVisitor(rec, httptest.NewRequest(http.MethodGet, "/livechat/stream", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestVisitorStreamConnectedFrame(t *testing.T) {
	handler, broker := newStreamHandler()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	frames := serveUntil(t, handler.HandleVisitor, "/livechat/stream?sessionId="+id, func(cancel context.CancelFunc) {
		time.Sleep(50 * time.Millisecond)
		cancel()
	})

	if len(frames) == 0 {
		t.Fatal("no frames written")
	}
	first := frames[0]
	if first["type"] != model.EventConnected || first["sessionId"] != id {
		t.Fatalf("unexpected first frame: %v", first)
	}
	if first["status"] != string(model.StatusWaiting) {
		t.Fatalf("connected frame should carry status: %v", first)
	}
	if remaining, _ := first["timeRemaining"].(float64); remaining <= 0 || remaining > 120 {
		t.Fatalf("timeRemaining out of range: %v", first["timeRemaining"])
	}
}

func TestVisitorStreamRelaysEvents(t *testing.T) {
	handler, broker := newStreamHandler()
	id, _ := broker.RequestSession("Alice", "", "support", nil)

	frames := serveUntil(t, handler.HandleVisitor, "/livechat/stream?sessionId="+id, func(cancel context.CancelFunc) {
		// Wait for the subscription before pushing.
		deadline := time.Now().Add(time.Second)
		for broker.Streams().SessionStreamCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		broker.Streams().Push(id, model.MessageEvent(id, model.Message{From: "agent", Text: "hi", Name: "Bob"}))
		time.Sleep(50 * time.Millisecond)
		cancel()
	})

	var sawMessage bool
	for _, frame := range frames {
		if frame["type"] == model.EventMessage && frame["text"] == "hi" {
			sawMessage = true
		}
	}
	if !sawMessage {
		t.Fatalf("pushed message not relayed, frames: %v", frames)
	}
}

func TestAdminStreamInitialData(t *testing.T) {
	handler, broker := newStreamHandler()
	broker.RequestSession("Alice", "", "support", nil)
	broker.RequestSession("Bob", "", "sales", nil)

	frames := serveUntil(t, handler.HandleAdmin, "/livechat/admin/stream", func(cancel context.CancelFunc) {
		time.Sleep(50 * time.Millisecond)
		cancel()
	})

	if len(frames) < 2 {
		t.Fatalf("expected connected + initial_data frames, got %v", frames)
	}
	if frames[0]["type"] != model.EventAdminConnected {
		t.Fatalf("first frame wrong: %v", frames[0])
	}
	initial := frames[1]
	if initial["type"] != model.EventInitialData {
		t.Fatalf("second frame wrong: %v", initial)
	}
	if initial["waitingSessions"].(float64) != 2 || initial["totalSessions"].(float64) != 2 {
		t.Fatalf("initial counters wrong: %v", initial)
	}
	if sessions, ok := initial["sessions"].([]any); !ok || len(sessions) != 2 {
		t.Fatalf("initial session list wrong: %v", initial["sessions"])
	}
}

func TestAdminStreamDeregistersOnClose(t *testing.T) {
	handler, broker := newStreamHandler()

	serveUntil(t, handler.HandleAdmin, "/livechat/admin/stream", func(cancel context.CancelFunc) {
		deadline := time.Now().Add(time.Second)
		for broker.Streams().AdminCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if broker.Streams().AdminCount() != 1 {
			t.Error("admin stream not registered while serving")
		}
		cancel()
	})

	if broker.Streams().AdminCount() != 0 {
		t.Fatalf("admin stream still registered after close, count=%d", broker.Streams().AdminCount())
	}
}
